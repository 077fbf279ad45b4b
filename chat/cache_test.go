package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/database/dbtest"
)

func newCachedLedger(t *testing.T, historyLimit int) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := dbtest.Open(t, &Session{}, &Message{})
	return NewLedger(db, client, config.ChatConfig{HistoryLimit: historyLimit, CacheTTL: time.Minute}), mr
}

func contents(list []Message) []string {
	out := make([]string, len(list))
	for i, msg := range list {
		out[i] = msg.Content
	}
	return out
}

func TestRecentCacheKeepsTrimmedWindow(t *testing.T) {
	ledger, mr := newCachedLedger(t, 4)
	ctx := context.Background()

	session, err := ledger.Create(ctx, 1, ClientMetadata{})
	require.NoError(t, err)
	key := "chat:recent:" + session.ID

	var sent []string
	for i := 1; i <= 7; i++ {
		content := fmt.Sprintf("m%d", i)
		sent = append(sent, content)
		require.NoError(t, ledger.Append(ctx, &Message{SessionID: session.ID, ProjectID: 1, Sender: SenderUser, Content: content}))

		recent, err := ledger.Recent(ctx, session.ID, 4)
		require.NoError(t, err)
		want := sent[max(0, len(sent)-4):]
		assert.Equal(t, want, contents(recent), "after %s", content)

		cached, err := mr.List(key)
		require.NoError(t, err)
		assert.Len(t, cached, len(want))
	}
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	require.NoError(t, ledger.db.Where("session_id = ?", session.ID).Delete(&Message{}).Error)

	recent, err := ledger.Recent(ctx, session.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5", "m6", "m7"}, contents(recent), "served from redis")

	uncached, err := ledger.Recent(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, uncached, "other limits read the database")
}

func TestEndDropsCachedWindow(t *testing.T) {
	ledger, mr := newCachedLedger(t, 4)
	ctx := context.Background()

	session, err := ledger.Create(ctx, 1, ClientMetadata{})
	require.NoError(t, err)
	require.NoError(t, ledger.Append(ctx, &Message{SessionID: session.ID, ProjectID: 1, Sender: SenderUser, Content: "hello"}))
	_, err = ledger.Recent(ctx, session.ID, 4)
	require.NoError(t, err)

	key := "chat:recent:" + session.ID
	require.True(t, mr.Exists(key))

	_, err = ledger.End(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRecentFallsBackWhenRedisIsDown(t *testing.T) {
	ledger, mr := newCachedLedger(t, 4)
	ctx := context.Background()

	session, err := ledger.Create(ctx, 1, ClientMetadata{})
	require.NoError(t, err)
	mr.Close()

	require.NoError(t, ledger.Append(ctx, &Message{SessionID: session.ID, ProjectID: 1, Sender: SenderUser, Content: "still stored"}))
	recent, err := ledger.Recent(ctx, session.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"still stored"}, contents(recent))
}
