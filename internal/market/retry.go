package market

import (
	"context"
	"errors"
	"time"
)

// DefaultAttempts bounds the re-read loop around a versioned update.
const DefaultAttempts = 5

// Retry runs fn until it returns something other than ErrConflict, or the
// attempts run out. fn must re-read state and re-check its precondition on
// every call; Retry only decides whether to call it again.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

// UndoTimeout bounds compensation steps that run after the caller gave up.
const UndoTimeout = 10 * time.Second

// Detach returns a context for compensation: it keeps ctx's values but not
// its cancellation, so a timed-out or disconnected request still undoes what
// it already did.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), UndoTimeout)
}
