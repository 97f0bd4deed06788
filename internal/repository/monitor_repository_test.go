package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMonitorLiveStats(t *testing.T) {
	_, rdb := newTestRedis(t)
	state := NewSessionStateRepository(rdb)
	monitor := NewMonitorRepository(nil, rdb)
	ctx := context.Background()
	examID := uuid.New()
	alice, bob := uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{alice, bob} {
		_, _, err := state.StartOrResume(ctx, examID, id, time.Now(), time.Hour)
		require.NoError(t, err)
	}
	_, _, err := state.StartOrResume(ctx, uuid.New(), uuid.New(), time.Now(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, state.SaveDraft(ctx, examID, alice, uuid.New(), &model.MCQAnswer{Answer: "A"}, time.Hour))
	require.NoError(t, state.SaveDraft(ctx, examID, alice, uuid.New(), &model.MCQAnswer{Answer: "B"}, time.Hour))
	require.NoError(t, state.AppendViolation(ctx, examID, bob, model.Violation{Type: model.ViolationCopyPaste, Count: 1}, time.Hour))

	stats, err := monitor.GetLiveStats(ctx, examID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byID := map[uuid.UUID]LiveStat{}
	for _, s := range stats {
		byID[s.StudentID] = s
	}
	require.EqualValues(t, 2, byID[alice].AnsweredCount)
	require.EqualValues(t, 1, byID[bob].Violations)
}

func TestMonitorPublishSubscribe(t *testing.T) {
	_, rdb := newTestRedis(t)
	monitor := NewMonitorRepository(nil, rdb)
	ctx := context.Background()
	examID := uuid.New()

	sub := monitor.Subscribe(ctx, examID)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, monitor.Publish(ctx, examID, map[string]string{"type": "violation"}))

	select {
	case msg := <-sub.Channel():
		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, "violation", got["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
