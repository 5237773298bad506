package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func TestTickDrivesIdleHandlerAndPrunes(t *testing.T) {
	ctrl := gomock.NewController(t)
	idle := mocks.NewMockIdleHandler(ctrl)
	pruner := mocks.NewMockPruner(ctrl)
	hub := events.NewHub(8)
	slogger, logBuf := NewTestSlogger()

	s := New(Config{TickInterval: time.Second, PruneEvery: time.Hour, Retention: 24 * time.Hour}, idle, pruner, hub, slogger)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	idle.EXPECT().OnIdleTick(t0)
	pruner.EXPECT().Prune(ctx, 24*time.Hour).Return(int64(3), nil)
	s.tick(ctx, t0)

	// Within the prune interval only the idle handler runs.
	idle.EXPECT().OnIdleTick(t0.Add(time.Minute))
	s.tick(ctx, t0.Add(time.Minute))

	idle.EXPECT().OnIdleTick(t0.Add(2 * time.Hour))
	pruner.EXPECT().Prune(ctx, 24*time.Hour).Return(int64(0), errors.New("disk I/O error"))
	s.tick(ctx, t0.Add(2*time.Hour))

	assert.Contains(t, logBuf.String(), "Pruned journal")
	assert.Contains(t, logBuf.String(), "Failed to prune journal")

	snap := hub.SnapshotSince(0)
	if assert.Len(t, snap, 1) {
		assert.Equal(t, "journal.pruned", snap[0].Type)
	}
}

func TestTickWithoutRetentionNeverPrunes(t *testing.T) {
	ctrl := gomock.NewController(t)
	idle := mocks.NewMockIdleHandler(ctrl)
	pruner := mocks.NewMockPruner(ctrl)
	slogger, _ := NewTestSlogger()

	s := New(Config{TickInterval: time.Second}, idle, pruner, nil, slogger)
	idle.EXPECT().OnIdleTick(gomock.Any()).Times(2)

	s.tick(context.Background(), time.Now())
	s.tick(context.Background(), time.Now().Add(2*time.Hour))
}

func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	idle := mocks.NewMockIdleHandler(ctrl)
	slogger, logBuf := NewTestSlogger()

	ticked := make(chan struct{}, 1)
	idle.EXPECT().OnIdleTick(gomock.Any()).Do(func(time.Time) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}).MinTimes(1)

	s := New(Config{TickInterval: 5 * time.Millisecond}, idle, nil, nil, slogger)
	s.Start(context.Background())

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never ticked")
	}
	s.Stop()
	s.Stop()
	assert.Contains(t, logBuf.String(), "Scheduler stopped")
}

func TestContextCancelStopsLoop(t *testing.T) {
	slogger, logBuf := NewTestSlogger()
	ctx, cancel := context.WithCancel(context.Background())

	s := New(Config{TickInterval: time.Hour}, nil, nil, nil, slogger)
	s.Start(ctx)
	cancel()
	s.wg.Wait()

	assert.Contains(t, logBuf.String(), "context cancelled")
}
