package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openenterprise/greenhouse/internal/heartbeat"
)

func TestTaskRunsAndRogersUp(t *testing.T) {
	hb := heartbeat.New(nil, nil)
	r := New(hb, nil)

	var calls int32
	r.Register(Task{Name: "temphum", Period: 10 * time.Millisecond, Fn: func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	cancel()
	r.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestMultipleTasksRunIndependently(t *testing.T) {
	hb := heartbeat.New(nil, nil)
	r := New(hb, nil)

	var net, routine int32
	r.Register(Task{Name: "net", Period: 10 * time.Millisecond, Fn: func(ctx context.Context) {
		atomic.AddInt32(&net, 1)
	}})
	r.Register(Task{Name: "routine", Period: 10 * time.Millisecond, Fn: func(ctx context.Context) {
		atomic.AddInt32(&routine, 1)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	cancel()
	r.Stop()

	require.Greater(t, atomic.LoadInt32(&net), int32(0))
	require.Greater(t, atomic.LoadInt32(&routine), int32(0))
}

func TestStopWaitsForTasksToExit(t *testing.T) {
	hb := heartbeat.New(nil, nil)
	r := New(hb, nil)

	var running int32
	r.Register(Task{Name: "t", Period: 5 * time.Millisecond, Fn: func(ctx context.Context) {
		atomic.StoreInt32(&running, 1)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	r.Stop()
	require.Equal(t, int32(1), atomic.LoadInt32(&running))
}
