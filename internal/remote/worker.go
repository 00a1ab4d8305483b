package remote

import (
	"fmt"
	"time"

	sdkworker "go.temporal.io/sdk/worker"

	"github.com/jordanhubbard/spindle/internal/worker"
)

const cancelGrace = 5 * time.Second

// RunWorker registers the generation workflow and activities on a
// Temporal worker and blocks until the interrupt channel fires. The
// delegate performs the actual backend calls on this process.
func RunWorker(c *Client, delegate worker.Invoker, interrupt <-chan interface{}) error {
	w := sdkworker.New(c.temporal, c.TaskQueue(), sdkworker.Options{})

	w.RegisterWorkflow(GenerateWorkflow)
	w.RegisterActivity(NewActivities(delegate).GenerateActivity)

	if err := w.Run(interrupt); err != nil {
		return fmt.Errorf("temporal worker stopped: %w", err)
	}
	return nil
}
