package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/internal/telemetry"
)

type stubEngine struct {
	Engine
	closed int
}

func (s *stubEngine) CheckModel(context.Context, []byte) error { return nil }

func (s *stubEngine) Close() error {
	s.closed++
	return nil
}

func countingStarter(started *int, e *stubEngine) Starter {
	return func(context.Context) (Engine, error) {
		*started++
		return e, nil
	}
}

func TestHandle_StartsOnceClosesOnce(t *testing.T) {
	var started int
	e := &stubEngine{}
	h := NewHandle(countingStarter(&started, e))
	ctx := context.Background()

	require.NoError(t, h.Acquire(ctx))
	require.NoError(t, h.Acquire(ctx))
	assert.Equal(t, 1, started)
	assert.Equal(t, 2, h.Refs())

	require.NoError(t, h.Release())
	assert.Equal(t, 0, e.closed)
	require.NoError(t, h.Release())
	assert.Equal(t, 1, e.closed)
	assert.Equal(t, 0, h.Refs())

	require.NoError(t, h.Release(), "extra release is a no-op")
	assert.Equal(t, 1, e.closed)

	require.NoError(t, h.Acquire(ctx))
	assert.Equal(t, 2, started)
}

func TestHandle_ExecRequiresReference(t *testing.T) {
	var started int
	h := NewHandle(countingStarter(&started, &stubEngine{}))
	err := h.Exec(context.Background(), "CheckModel", func(ctx context.Context, e Engine) error {
		return e.CheckModel(ctx, nil)
	})
	assert.ErrorIs(t, err, ErrBoundaryNotReady)
	assert.Equal(t, int64(0), h.Calls())
	assert.Equal(t, 0, started)
}

func TestHandle_ExecCountsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	var started int
	h := NewHandle(countingStarter(&started, &stubEngine{}), WithMetrics(m))
	ctx := context.Background()
	require.NoError(t, h.Acquire(ctx))
	defer h.Release()

	for range 3 {
		require.NoError(t, h.Exec(ctx, "CheckModel", func(ctx context.Context, e Engine) error {
			return e.CheckModel(ctx, nil)
		}))
	}
	boom := errors.New("boom")
	err := h.Exec(ctx, "OptimizeGraph", func(context.Context, Engine) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(4), h.Calls())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BoundaryCalls.WithLabelValues("CheckModel")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BoundaryCalls.WithLabelValues("OptimizeGraph")))
}

func TestHandle_StartFailure(t *testing.T) {
	h := NewHandle(func(context.Context) (Engine, error) { return nil, errors.New("engine unavailable") })
	err := h.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, h.Refs())
}

func TestHandle_ReleaseDuringExecDefersClose(t *testing.T) {
	e := &stubEngine{}
	var started int
	h := NewHandle(countingStarter(&started, e))
	ctx := context.Background()
	require.NoError(t, h.Acquire(ctx))

	entered := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.Exec(ctx, "CheckModel", func(context.Context, Engine) error {
			close(entered)
			<-proceed
			if e.closed != 0 {
				return errors.New("engine closed during call")
			}
			return nil
		})
	}()

	<-entered
	require.NoError(t, h.Release())
	assert.Equal(t, 1, h.Refs(), "the running call holds a reference")
	close(proceed)

	require.NoError(t, <-done)
	assert.Equal(t, 1, e.closed)
	assert.Equal(t, 0, h.Refs())

	err := h.Exec(ctx, "CheckModel", func(context.Context, Engine) error { return nil })
	assert.ErrorIs(t, err, ErrBoundaryNotReady)
}
