package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"
)

func TestIsRejection(t *testing.T) {
	wrap := func(status int) error {
		return fmt.Errorf("update: %w", &StatusError{Status: status})
	}
	assert.True(t, IsRejection(wrap(http.StatusBadRequest)))
	assert.True(t, IsRejection(wrap(http.StatusConflict)))
	assert.False(t, IsRejection(wrap(http.StatusUnauthorized)))
	assert.False(t, IsRejection(wrap(http.StatusBadGateway)))
	assert.False(t, IsRejection(errors.New("dial tcp: refused")))
	assert.False(t, IsRejection(nil))
}

func TestShared_OutlivesCancelledCaller(t *testing.T) {
	var g singleflight.Group
	started := make(chan struct{})
	release := make(chan struct{})
	seen := make(chan error, 1)
	fn := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		seen <- ctx.Err()
		return "ok", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := Shared(ctx, &g, "k", fn)
		first <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-seen)
}

func TestShared_KeepsContextValues(t *testing.T) {
	type key struct{}
	var g singleflight.Group
	ctx := context.WithValue(context.Background(), key{}, "v")

	got, err := Shared(ctx, &g, "k", func(ctx context.Context) (any, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return ctx.Value(key{}), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
