package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/store/sqlite"
)

type receiptFixture struct {
	rec   *Reconciler
	convs *sqlite.ConversationRepo
	msgs  *sqlite.MessageRepo
	a, b  *domain.User
	conv  *domain.Conversation
}

func newReceiptFixture(t *testing.T) *receiptFixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	f := &receiptFixture{
		convs: sqlite.NewConversationRepo(db),
		msgs:  sqlite.NewMessageRepo(db),
		a:     &domain.User{Username: "alice", HashedPassword: "x"},
		b:     &domain.User{Username: "bob", HashedPassword: "x"},
		conv:  &domain.Conversation{Kind: domain.ConversationPrivate},
	}
	f.rec = NewReconciler(f.convs, f.msgs, sqlite.NewReadStatusRepo(db))
	require.NoError(t, users.Create(ctx, f.a))
	require.NoError(t, users.Create(ctx, f.b))
	require.NoError(t, f.convs.Create(ctx, f.conv, f.a.ID, []int64{f.b.ID}))
	return f
}

func (f *receiptFixture) send(t *testing.T, from *domain.User) *domain.Message {
	t.Helper()
	m := &domain.Message{ConversationID: f.conv.ID, SenderID: from.ID, Content: "x"}
	require.NoError(t, f.msgs.Create(context.Background(), m))
	return m
}

func TestReconciler_MarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReceiptFixture(t)
	m := f.send(t, f.a)

	created, err := f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m.ID)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestReconciler_ConcurrentMarkReadCreatesOnce(t *testing.T) {
	ctx := context.Background()
	f := newReceiptFixture(t)
	m := f.send(t, f.a)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m.ID)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
}

func TestReconciler_MarkReadAdvancesUnread(t *testing.T) {
	ctx := context.Background()
	f := newReceiptFixture(t)
	m1 := f.send(t, f.a)
	m2 := f.send(t, f.a)

	n, err := f.rec.UnreadCount(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m1.ID)
	require.NoError(t, err)
	n, err = f.rec.UnreadCount(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m2.ID)
	require.NoError(t, err)
	n, err = f.rec.UnreadCount(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// a late receipt for an older message does not rewind the counter
	_, err = f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m1.ID)
	require.NoError(t, err)
	n, err = f.rec.UnreadCount(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconciler_UnknownMessageIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newReceiptFixture(t)

	created, err := f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, 4242)
	require.NoError(t, err)
	assert.False(t, created)

	other := &domain.Conversation{Kind: domain.ConversationGroup}
	require.NoError(t, f.convs.Create(ctx, other, f.a.ID, []int64{f.b.ID}))
	m := &domain.Message{ConversationID: other.ID, SenderID: f.a.ID, Content: "x"}
	require.NoError(t, f.msgs.Create(ctx, m))

	created, err = f.rec.MarkRead(ctx, f.conv.ID, f.b.ID, m.ID)
	require.NoError(t, err)
	assert.False(t, created, "messages from another conversation are ignored")
}

func TestReconciler_MarkAllRead(t *testing.T) {
	ctx := context.Background()
	f := newReceiptFixture(t)
	f.send(t, f.a)
	f.send(t, f.a)
	f.send(t, f.b)

	n, err := f.rec.MarkAllRead(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err := f.rec.UnreadCount(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	n, err = f.rec.MarkAllRead(ctx, f.conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
