package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func TestMonitor_Check(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	core, logs := observer.New(zap.DebugLevel)
	m := NewMonitor(store, time.Minute, zap.New(core))

	n, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "不整合が無ければ警告しないこと")

	require.NoError(t, store.CreateSaga(ctx, "s1", WorkflowCancelBooking, "U1", Payload{RoomID: "R1"}))
	require.NoError(t, store.Finish(ctx, "s1", StatusInconsistent, Payload{RoomID: "R1"}))

	n, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, int64(1), warns[0].ContextMap()["count"])
}

func TestMonitor_StartStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	core, logs := observer.New(zap.DebugLevel)
	m := NewMonitor(store, 10*time.Millisecond, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Startがキャンセル後に終了しない")
	}
	assert.Equal(t, 1, logs.FilterMessage("不整合の監視を停止します").Len())
}
