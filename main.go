// The main package for the turbocrawl executable.
package main

import (
	"github.com/mehdiyevf/turbocrawl/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
