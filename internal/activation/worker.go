package activation

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run polls the queue until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Infof("Activation workers started (workers=%d, poll=%s)", o.cfg.Workers, o.cfg.PollInterval)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Activation workers stopped")
			return
		case <-ticker.C:
			if _, err := o.ProcessDue(ctx); err != nil && ctx.Err() == nil {
				o.logger.Errorf("Failed to process due activations: %v", err)
			}
		}
	}
}

// ProcessDue pops due activations and processes them with at most
// cfg.Workers calls in flight. It returns how many were popped.
func (o *Orchestrator) ProcessDue(ctx context.Context) (int, error) {
	ids, err := o.Queue.PopDue(ctx, o.now(), o.cfg.Workers*4)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			err := o.Process(ctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrBusy):
				// Someone else holds it; look again next round.
				if perr := o.Queue.Push(ctx, id, o.now().Add(o.cfg.PollInterval)); perr != nil {
					o.logger.Errorf("Failed to requeue activation %s: %v", id, perr)
				}
			default:
				o.logger.Errorf("Activation %s: %v", id, err)
			}
			return nil
		})
	}
	return len(ids), g.Wait()
}
