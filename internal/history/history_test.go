package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"hkbot/internal/domain"
	"hkbot/internal/store/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.Config{
		Path:   filepath.Join(t.TempDir(), "history.db"),
		Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func str(s string) *string { return &s }

func TestGetHistory_UnknownChatIsEmpty(t *testing.T) {
	h := New(Config{Store: newSQLite(t), Logger: testLogger()})

	msgs, err := h.GetHistory(context.Background(), "biz", "nobody", 0)
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestGetHistory_LastNInChronologicalOrder(t *testing.T) {
	h := New(Config{Store: newSQLite(t), Limit: 3, Logger: testLogger()})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := h.Append(ctx, "biz", "user", domain.Message{Text: str("m" + strconv.Itoa(i)), IsUser: i%2 == 1})
		require.NoError(t, err)
	}

	msgs, err := h.GetHistory(ctx, "biz", "user", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "m3", msgs[0].TextValue())
	require.Equal(t, "m4", msgs[1].TextValue())
	require.Equal(t, "m5", msgs[2].TextValue())

	all, err := h.GetHistory(ctx, "biz", "user", 50)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestAppend_CreatesSingleChat(t *testing.T) {
	store := newSQLite(t)
	h := New(Config{Store: store, Logger: testLogger()})
	ctx := context.Background()

	a, err := h.Append(ctx, "biz", "user", domain.Message{Text: str("hi"), IsUser: true})
	require.NoError(t, err)
	b, err := h.Append(ctx, "biz", "user", domain.Message{Text: str("again"), IsUser: true})
	require.NoError(t, err)
	require.Equal(t, a.ChatID, b.ChatID)

	other, err := h.Append(ctx, "biz2", "user", domain.Message{Text: str("hi"), IsUser: true})
	require.NoError(t, err)
	require.NotEqual(t, a.ChatID, other.ChatID)
}

func TestAppend_RejectsEmptyMessage(t *testing.T) {
	h := New(Config{Store: newSQLite(t), Logger: testLogger()})
	_, err := h.Append(context.Background(), "biz", "user", domain.Message{IsUser: true})
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
}

// racyChats simulates another writer creating the chat between lookup and insert.
type racyChats struct {
	domain.ChatStore
	finds int
}

func (r *racyChats) FindChat(ctx context.Context, businessID, userID string) (*domain.Chat, error) {
	r.finds++
	if r.finds == 1 {
		return nil, domain.ErrNotFound
	}
	return &domain.Chat{ID: "winner", BusinessID: businessID, UserID: userID}, nil
}

func (r *racyChats) CreateChat(context.Context, domain.Chat) (*domain.Chat, error) {
	return nil, domain.ErrChatExists
}

func (r *racyChats) AddMessage(_ context.Context, msg domain.Message) (*domain.Message, error) {
	msg.ID = 1
	return &msg, nil
}

func TestAppend_LostCreationRaceUsesWinner(t *testing.T) {
	racy := &racyChats{}
	h := New(Config{Store: racy, Logger: testLogger()})

	saved, err := h.Append(context.Background(), "biz", "user", domain.Message{Text: str("hi"), IsUser: true})
	require.NoError(t, err)
	require.Equal(t, "winner", saved.ChatID)
	require.Equal(t, 2, racy.finds)
}

type failingChats struct{ domain.ChatStore }

func (failingChats) FindChat(context.Context, string, string) (*domain.Chat, error) {
	return nil, errors.New("db down")
}

func TestGetHistory_PropagatesStoreError(t *testing.T) {
	h := New(Config{Store: failingChats{}, Logger: testLogger()})
	_, err := h.GetHistory(context.Background(), "biz", "user", 5)
	require.Error(t, err)
}

func TestFormatTurn(t *testing.T) {
	cases := []struct {
		name string
		msg  domain.Message
		want domain.Turn
	}{
		{
			name: "text only",
			msg:  domain.Message{Text: str("the lamp is broken"), IsUser: true},
			want: domain.Turn{Role: "user", Content: "the lamp is broken"},
		},
		{
			name: "image without description",
			msg:  domain.Message{ImageURL: str("https://cdn/a.jpg"), IsUser: true},
			want: domain.Turn{Role: "user", Content: "[Image attached. Image URL: https://cdn/a.jpg]"},
		},
		{
			name: "text and described image",
			msg:  domain.Message{Text: str("see this"), ImageURL: str("https://cdn/a.jpg"), ImageDescription: str("a leaking pipe"), IsUser: true},
			want: domain.Turn{Role: "user", Content: "see this [Image attached with a leaking pipe. Image URL: https://cdn/a.jpg]"},
		},
		{
			name: "assistant",
			msg:  domain.Message{Text: str("on it"), IsUser: false},
			want: domain.Turn{Role: "assistant", Content: "on it"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FormatTurn(tc.msg))
		})
	}
}

func TestRecentImages(t *testing.T) {
	h := New(Config{Store: newSQLite(t), Logger: testLogger()})
	ctx := context.Background()

	imgs, err := h.RecentImages(ctx, "biz", "user", 5)
	require.NoError(t, err)
	require.Empty(t, imgs)

	_, err = h.Append(ctx, "biz", "user", domain.Message{ImageURL: str("https://cdn/1.jpg"), IsUser: true})
	require.NoError(t, err)
	_, err = h.Append(ctx, "biz", "user", domain.Message{Text: str("ok"), IsUser: false})
	require.NoError(t, err)

	imgs, err = h.RecentImages(ctx, "biz", "user", 5)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
}
