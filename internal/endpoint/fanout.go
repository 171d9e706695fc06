package endpoint

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"zigbee-endpoints/internal/handlers"
)

// StageResult is the outcome of one handler's stage call.
type StageResult struct {
	HandlerID string
	Err       error
}

// runStage calls fn for every handler concurrently and waits for all of
// them. A failing or panicking handler is logged and does not affect the
// others; the group never sees an error, so nothing is cancelled.
func runStage(ctx context.Context, stage string, hs []handlers.ClusterHandler, fn func(context.Context, handlers.ClusterHandler) error) []StageResult {
	results := make([]StageResult, len(hs))
	var g errgroup.Group
	for i, h := range hs {
		g.Go(func() error {
			err := callStage(ctx, h, fn)
			results[i] = StageResult{HandlerID: h.ID(), Err: err}
			if err != nil {
				h.Warn("stage failed", "stage", stage, "err", err)
			} else {
				h.Debug("stage succeeded", "stage", stage)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func callStage(ctx context.Context, h handlers.ClusterHandler, fn func(context.Context, handlers.ClusterHandler) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, h)
}
