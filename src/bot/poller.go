package bot

import (
	"context"
	"time"

	"signalrelay/src/model"
)

// UpdateSource is the long-polling side of the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]model.TelegramUpdate, error)
}

const pollRetryDelay = 3 * time.Second

// Poll feeds updates from src to the dispatcher until ctx is done. Updates
// are handled one at a time, in order.
func (d *Dispatcher) Poll(ctx context.Context, src UpdateSource) error {
	d.logger.Info("Polling for updates")
	var offset int64
	for {
		updates, err := src.GetUpdates(ctx, offset, d.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.WithError(err).Warn("getUpdates failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for i := range updates {
			if updates[i].UpdateID >= offset {
				offset = updates[i].UpdateID + 1
			}
			d.HandleUpdate(ctx, &updates[i])
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
