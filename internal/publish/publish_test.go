package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopDropsEvents(t *testing.T) {
	t.Parallel()

	pub := Noop{}
	require.NoError(t, pub.Publish(context.Background(), "8206104", map[string]string{"k": "v"}))
	require.NoError(t, pub.Close())
}

func TestMemoryRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	require.NoError(t, pub.Publish(context.Background(), "8206104", map[string]string{"make": "Kia"}))
	require.NoError(t, pub.Publish(context.Background(), "8211407", "summary"))

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "8206104", events[0].Key)
	assert.Equal(t, "8211407", events[1].Key)
	assert.Equal(t, map[string]string{"make": "Kia"}, events[0].Payload)

	events[0].Key = "modified"
	assert.Equal(t, "8206104", pub.Events()[0].Key)

	require.NoError(t, pub.Close())
}
