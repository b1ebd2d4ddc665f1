package syncer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports an operation stopped by its caller. It wraps
	// context.Canceled so errors.Is(err, context.Canceled) holds.
	ErrCancelled = fmt.Errorf("synchronization cancelled: %w", context.Canceled)

	// ErrInvalidRange is returned for a fill request with start > end.
	ErrInvalidRange = errors.New("invalid block range")
)

func isCancel(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}
