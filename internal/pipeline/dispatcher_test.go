package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"hkbot/internal/domain"
)

type recordingAppender struct {
	msgs []domain.Message
	err  error
}

func (r *recordingAppender) Append(_ context.Context, _, _ string, msg domain.Message) (*domain.Message, error) {
	r.msgs = append(r.msgs, msg)
	return &msg, r.err
}

func TestDispatcher_Deliver(t *testing.T) {
	sender := &fakeSender{failTo: map[string]bool{"bad": true}}
	hist := &recordingAppender{}
	d := NewDispatcher(DispatcherConfig{Sender: sender, History: hist, FallbackReply: "oops", Logger: testLogger()})
	ctx := context.Background()

	require.True(t, d.Deliver(ctx, "good", "u1", "biz", "hello"))
	require.False(t, d.Deliver(ctx, "bad", "u2", "biz", "lost"))
	require.True(t, d.DeliverFallback(ctx, "good", "u1", "biz"))

	require.Len(t, hist.msgs, 3, "every reply is persisted, sent or not")
	for _, m := range hist.msgs {
		require.False(t, m.IsUser)
	}
	require.Equal(t, "oops", hist.msgs[2].TextValue())
}

func TestDispatcher_PersistFailureKeepsSendResult(t *testing.T) {
	sender := &fakeSender{failTo: map[string]bool{}}
	d := NewDispatcher(DispatcherConfig{Sender: sender, History: &recordingAppender{err: errors.New("disk full")}, Logger: testLogger()})

	require.True(t, d.Deliver(context.Background(), "good", "u1", "biz", "hello"))
	require.Len(t, sender.sent, 1)
}
