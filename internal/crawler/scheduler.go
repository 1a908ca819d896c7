package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mehdiyevf/turbocrawl/internal/metrics"
)

// SchedulerConfig bounds a run: the inclusive page range, the worker
// concurrency limit, and the checkpoint cadence during the drain phase.
type SchedulerConfig struct {
	StartPage       int
	EndPage         int
	Concurrency     int
	CheckpointEvery int
}

// Scheduler drives a crawl through its phases: rehydrate state, discover
// pages in order, draft the pending queue, drain it under the concurrency
// bound, and finish as completed or interrupted.
//
// Cancellation is cooperative. The run context is observed before each page
// discovery and before each item dispatch; in-flight work runs on a
// non-cancelable child context and is allowed to finish, so shutdown latency
// is bounded by the slowest fetch timeout. All state mutation is funneled
// through the coordinator goroutine (discovery loop and drain result loop);
// workers only report outcomes over a channel.
type Scheduler struct {
	cfg         SchedulerConfig
	discoverer  *PageDiscoverer
	worker      *ItemWorker
	checkpoints CheckpointStore
	sink        Sink
	publisher   Publisher
	clock       Clock
	logger      *zap.Logger

	mu        sync.Mutex
	phase     Phase
	runID     string
	startedAt time.Time
	state     *runState
}

// NewScheduler wires a scheduler.
func NewScheduler(
	cfg SchedulerConfig,
	discoverer *PageDiscoverer,
	worker *ItemWorker,
	checkpoints CheckpointStore,
	sink Sink,
	publisher Publisher,
	clock Clock,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 10
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:         cfg,
		discoverer:  discoverer,
		worker:      worker,
		checkpoints: checkpoints,
		sink:        sink,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
		phase:       PhaseInit,
	}
}

// RecordEvent is published after each completed item.
type RecordEvent struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Identifier string    `json:"identifier"`
	SourceURL  string    `json:"source_url"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// RunSummaryEvent is published once at the end of a run.
type RunSummaryEvent struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id"`
	Status          Phase     `json:"status"`
	PagesDiscovered int       `json:"pages_discovered"`
	ItemsCompleted  int       `json:"items_completed"`
	ItemsPending    int       `json:"items_pending"`
	ItemsFailed     int       `json:"items_failed"`
	FinishedAt      time.Time `json:"finished_at"`
}

type itemOutcome struct {
	item WorkItem
	rec  Record
	err  error
}

// Run executes one crawl pass. The returned error is reserved for the fatal
// class (checkpoint store unwritable, sink store failure); an interrupted run
// is a normal result with Status PhaseInterrupted.
func (s *Scheduler) Run(ctx context.Context) (RunResult, error) {
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))

	loaded, resumed := s.checkpoints.Load(ctx)
	st := newRunState(loaded)

	s.mu.Lock()
	s.runID = runID
	s.startedAt = s.clock.Now()
	s.phase = PhaseInit
	s.state = st
	s.mu.Unlock()

	if resumed {
		pages, done, pending, recs := st.counts()
		logger.Info("resuming from checkpoint",
			zap.Int("completed_pages", pages),
			zap.Int("completed_items", done),
			zap.Int("pending_items", pending),
			zap.Int("records", recs))
	} else {
		logger.Info("starting fresh crawl",
			zap.Int("start_page", s.cfg.StartPage),
			zap.Int("end_page", s.cfg.EndPage))
	}

	// Checkpoints and the final sink handoff are part of graceful shutdown,
	// so they run on a context that survives the stop signal.
	workCtx := context.WithoutCancel(ctx)

	pagesThisRun, err := s.discoverPages(ctx, workCtx, st, logger)
	if err != nil {
		return RunResult{}, err
	}

	var completed, failed int
	if ctx.Err() == nil {
		s.setPhase(PhaseDrafting)
		queue := st.draftQueue()
		logger.Info("queue drafted", zap.Int("items", len(queue)))

		completed, failed, err = s.drainQueue(ctx, workCtx, st, queue, runID, logger)
		if err != nil {
			return RunResult{}, err
		}
	}

	return s.finish(workCtx, st, runID, pagesThisRun, completed, failed, ctx.Err() != nil, logger)
}

// Snapshot returns the externally observable progress of the current or most
// recent run.
func (s *Scheduler) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatusSnapshot{
		RunID:     s.runID,
		Phase:     s.phase,
		StartedAt: s.startedAt,
	}
	if s.state != nil {
		snap.PagesCompleted, snap.ItemsCompleted, snap.ItemsPending, snap.Records = s.state.counts()
	}
	return snap
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// discoverPages walks the configured page range in order, skipping pages a
// previous run already finished. Page k completes before page k+1 starts.
func (s *Scheduler) discoverPages(ctx, workCtx context.Context, st *runState, logger *zap.Logger) (int, error) {
	s.setPhase(PhaseDiscovering)
	pages := 0
	for page := s.cfg.StartPage; page <= s.cfg.EndPage; page++ {
		if ctx.Err() != nil {
			logger.Info("stop requested, halting page discovery", zap.Int("next_page", page))
			return pages, nil
		}
		if st.pageCompleted(page) {
			continue
		}

		items := s.discoverer.Discover(ctx, page)
		added := st.mergePending(items)
		st.markPageCompleted(page)
		pages++

		_, _, pending, _ := st.counts()
		metrics.SetPendingItems(pending)
		logger.Info("page merged",
			zap.Int("page", page),
			zap.Int("discovered", len(items)),
			zap.Int("queued", added))

		if err := s.saveCheckpoint(workCtx, st); err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// drainQueue dispatches workers over the drafted queue under the concurrency
// bound and consumes their outcomes in the coordinator loop. Items whose
// detail fetch failed terminally stay pending for the next invocation.
func (s *Scheduler) drainQueue(
	ctx, workCtx context.Context,
	st *runState,
	queue []WorkItem,
	runID string,
	logger *zap.Logger,
) (int, int, error) {
	if len(queue) == 0 {
		return 0, 0, nil
	}
	s.setPhase(PhaseDraining)

	admissionCtx, stopAdmission := context.WithCancel(ctx)
	defer stopAdmission()

	results := make(chan itemOutcome)
	go func() {
		defer close(results)
		g := new(errgroup.Group)
		g.SetLimit(s.cfg.Concurrency)
		for _, item := range queue {
			if admissionCtx.Err() != nil {
				logger.Info("stop requested, no new items dispatched",
					zap.String("next_identifier", item.Identifier))
				break
			}
			g.Go(func() error {
				// Re-check after waiting for a slot; an item admitted but not
				// yet started stays pending instead of being processed.
				if admissionCtx.Err() != nil {
					return nil
				}
				metrics.IncActiveWorkers()
				defer metrics.DecActiveWorkers()
				rec, err := s.worker.Process(workCtx, item)
				results <- itemOutcome{item: item, rec: rec, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var completed, failed, sinceCheckpoint int
	var fatalErr error
	for out := range results {
		if fatalErr != nil {
			continue
		}

		pe, isProc := AsProcessError(out.err)
		if out.err != nil && (!isProc || pe.Kind == ProcessKindDetailFetchFailed) {
			failed++
			kind := string(ProcessKindDetailFetchFailed)
			if isProc {
				kind = string(pe.Kind)
			}
			metrics.IncItemFailed(kind)
			logger.Error("item failed, left pending for next run",
				zap.String("identifier", out.item.Identifier),
				zap.Error(out.err))
			continue
		}

		if out.err != nil {
			metrics.IncItemFailed(string(pe.Kind))
		}
		st.completeItem(out.rec)
		completed++
		sinceCheckpoint++
		metrics.IncItemCompleted()
		s.publishRecord(workCtx, runID, out.rec, logger)

		if sinceCheckpoint >= s.cfg.CheckpointEvery {
			sinceCheckpoint = 0
			_, _, pending, _ := st.counts()
			metrics.SetPendingItems(pending)
			if err := s.saveCheckpoint(workCtx, st); err != nil {
				fatalErr = err
				stopAdmission()
			}
		}
	}
	if fatalErr != nil {
		return completed, failed, fatalErr
	}
	return completed, failed, nil
}

// finish runs the terminal phase: final checkpoint or checkpoint clear, the
// sink handoff, the summary event, and the report counts.
func (s *Scheduler) finish(
	workCtx context.Context,
	st *runState,
	runID string,
	pages, completed, failed int,
	interrupted bool,
	logger *zap.Logger,
) (RunResult, error) {
	_, _, pending, _ := st.counts()
	metrics.SetPendingItems(pending)

	status := PhaseCompleted
	switch {
	case interrupted:
		status = PhaseInterrupted
		s.setPhase(PhaseInterrupted)
		if err := s.saveCheckpoint(workCtx, st); err != nil {
			return RunResult{}, err
		}
		logger.Info("interrupted, checkpoint saved", zap.Int("pending_items", pending))
	case pending > 0:
		s.setPhase(PhaseCompleted)
		if err := s.saveCheckpoint(workCtx, st); err != nil {
			return RunResult{}, err
		}
		logger.Warn("run finished with unresolved items, checkpoint retained",
			zap.Int("pending_items", pending))
	default:
		s.setPhase(PhaseCompleted)
		if err := s.checkpoints.Clear(workCtx); err != nil {
			return RunResult{}, fmt.Errorf("clear checkpoint: %w", err)
		}
		logger.Info("crawl completed, checkpoint cleared")
	}

	final := st.snapshot(s.clock.Now())
	result := RunResult{
		RunID:           runID,
		Status:          status,
		State:           final,
		PagesDiscovered: pages,
		ItemsCompleted:  completed,
		ItemsPending:    pending,
		ItemsFailed:     failed,
	}

	if len(final.Records) > 0 && s.sink != nil {
		if err := s.sink.Store(workCtx, final.Records); err != nil {
			return result, fmt.Errorf("store records: %w", err)
		}
		logger.Info("records handed to sink", zap.Int("records", len(final.Records)))
	}

	s.publishSummary(workCtx, runID, result, logger)
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("pages_discovered", pages),
		zap.Int("items_completed", completed),
		zap.Int("items_pending", pending),
		zap.Int("items_failed", failed))
	return result, nil
}

func (s *Scheduler) saveCheckpoint(ctx context.Context, st *runState) error {
	snap := st.snapshot(s.clock.Now())
	if err := s.checkpoints.Save(ctx, snap); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	metrics.IncCheckpointSave()
	return nil
}

func (s *Scheduler) publishRecord(ctx context.Context, runID string, rec Record, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	evt := RecordEvent{
		Type:       "record_completed",
		RunID:      runID,
		Identifier: rec.Identifier,
		SourceURL:  rec.SourceURL,
		FetchedAt:  rec.FetchedAt,
	}
	if err := s.publisher.Publish(ctx, rec.Identifier, evt); err != nil {
		metrics.IncRecordPublished("error")
		logger.Warn("record event publish failed",
			zap.String("identifier", rec.Identifier),
			zap.Error(err))
		return
	}
	metrics.IncRecordPublished("ok")
}

func (s *Scheduler) publishSummary(ctx context.Context, runID string, result RunResult, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	evt := RunSummaryEvent{
		Type:            "run_summary",
		RunID:           runID,
		Status:          result.Status,
		PagesDiscovered: result.PagesDiscovered,
		ItemsCompleted:  result.ItemsCompleted,
		ItemsPending:    result.ItemsPending,
		ItemsFailed:     result.ItemsFailed,
		FinishedAt:      s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, runID, evt); err != nil {
		logger.Warn("run summary publish failed", zap.Error(err))
	}
}
