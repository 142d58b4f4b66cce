package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// SharedTimeout bounds a coalesced call once it no longer belongs to the
// caller that started it.
const SharedTimeout = 30 * time.Second

// Shared runs fn once for every concurrent caller of key. fn gets a context
// that keeps ctx's values but not its cancellation, so one caller giving up
// does not fail the others. Each caller still stops waiting when its own ctx
// is done.
func Shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedTimeout)
		defer cancel()
		return fn(callCtx)
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}
