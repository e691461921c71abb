package conversation

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/crypto"
	"github.com/pliu/cipherchat/internal/metrics"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store/memstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	keyPairs [3]*crypto.KeyPair
)

func testKeyPairs(t *testing.T) [3]*crypto.KeyPair {
	t.Helper()
	keysOnce.Do(func() {
		for i := range keyPairs {
			kp, err := crypto.GenerateKeyPair()
			require.NoError(t, err)
			keyPairs[i] = kp
		}
	})
	return keyPairs
}

type fixture struct {
	svc     *Service
	store   *memstore.MemStore
	metrics *metrics.Metrics
	alice   *models.Identity
	bob     *models.Identity
	carol   *models.Identity
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	kps := testKeyPairs(t)
	s := memstore.New()
	ctx := context.Background()

	mk := func(i int, id, name string) *models.Identity {
		u := &models.Identity{
			ID:          id,
			DisplayName: name,
			ExternalID:  "s1000000" + string(rune('1'+i)),
			Email:       id + "@x.edu",
			PublicKey:   kps[i].PublicKey,
			PrivateKey:  kps[i].PrivateKey,
		}
		require.NoError(t, s.CreateIdentity(ctx, u))
		return u
	}

	m := metrics.New()
	opts = append([]Option{WithMetrics(m)}, opts...)
	return &fixture{
		svc:     New(s, s, opts...),
		store:   s,
		metrics: m,
		alice:   mk(0, "alice", "Alice"),
		bob:     mk(1, "bob", "Bob"),
		carol:   mk(2, "carol", "Carol"),
	}
}

func TestNewMessageID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	id := NewMessageID(at)
	assert.Regexp(t, regexp.MustCompile(`^msg-1700000000123-[0-9a-f]{12}$`), id)
	assert.NotEqual(t, id, NewMessageID(at))
}

func TestSendAndSelfEchoRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	assert.False(t, msg.Read)
	assert.NotEqual(t, "hello", msg.Ciphertext)

	// Alice holds only her own key; the primary ciphertext is not hers.
	_, err = crypto.Decrypt(msg.Ciphertext, f.alice.PrivateKey)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	echo, err := f.store.GetSelfEcho(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, crypto.Verify(echo.SelfCiphertext, echo.SelfSignature, f.alice.PublicKey))

	asAlice, err := f.svc.LoadThread(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, asAlice, 1)
	assert.Equal(t, "hello", asAlice[0].Text)
	assert.Equal(t, models.StatusOK, asAlice[0].Status)
	assert.True(t, asAlice[0].Outgoing)

	asBob, err := f.svc.LoadThread(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, asBob, 1)
	assert.Equal(t, "hello", asBob[0].Text)
	assert.Equal(t, models.StatusOK, asBob[0].Status)
	assert.False(t, asBob[0].Outgoing)

	sent, err := testutil.GatherAndCount(f.metrics.Registry(), "chatty_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	rendered, err := testutil.GatherAndCount(f.metrics.Registry(), "chatty_thread_messages_rendered_total")
	require.NoError(t, err)
	assert.Equal(t, 1, rendered)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "alice", "bob", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.Send(ctx, "alice", "alice", "hi")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.Send(ctx, "alice", "nobody", "hi")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	tooLong := make([]byte, crypto.MaxPlaintextSize+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	_, err = f.svc.Send(ctx, "alice", "bob", string(tooLong))
	assert.ErrorIs(t, err, apperr.ErrEncryption)

	pending := &models.Identity{ID: "dave", DisplayName: "Dave", ExternalID: "s20000000", Email: "dave@x.edu"}
	require.NoError(t, f.store.CreateIdentity(ctx, pending))
	_, err = f.svc.Send(ctx, "alice", "dave", "hi")
	assert.ErrorIs(t, err, apperr.ErrKeysPending)

	msgs, err := f.store.GetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLoadThreadTamperedSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ct, err := crypto.Encrypt("pay 100", f.bob.PublicKey)
	require.NoError(t, err)
	sig, err := crypto.Sign(ct, f.alice.PrivateKey)
	require.NoError(t, err)
	raw, err := crypto.FromBase64(sig)
	require.NoError(t, err)
	raw[0] ^= 0x01

	msg := &models.Message{
		ID: "msg-1-tampered", SenderID: "alice", RecipientID: "bob",
		Ciphertext: ct, Signature: crypto.ToBase64(raw), Timestamp: time.Now(),
	}
	require.NoError(t, f.store.AppendMessage(ctx, msg, nil))

	thread, err := f.svc.LoadThread(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, models.TextSignatureFailed, thread[0].Text)
	assert.Equal(t, models.StatusSignatureFailed, thread[0].Status)
}

func TestLoadThreadPartialFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Encrypted for carol, so bob cannot decrypt it.
	wrongKey, err := crypto.Encrypt("not for bob", f.carol.PublicKey)
	require.NoError(t, err)
	wrongSig, err := crypto.Sign(wrongKey, f.alice.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendMessage(ctx, &models.Message{
		ID: "msg-1-a", SenderID: "alice", RecipientID: "bob",
		Ciphertext: wrongKey, Signature: wrongSig, Timestamp: base,
	}, nil))

	f.svc.now = func() time.Time { return base.Add(time.Second) }
	_, err = f.svc.Send(ctx, "alice", "bob", "second")
	require.NoError(t, err)

	asBob, err := f.svc.LoadThread(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, asBob, 2)
	assert.Equal(t, models.StatusDecryptionFailed, asBob[0].Status)
	assert.Equal(t, models.TextDecryptionFailed, asBob[0].Text)
	assert.Equal(t, "second", asBob[1].Text)

	// The first message was stored without an echo.
	asAlice, err := f.svc.LoadThread(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, asAlice, 2)
	assert.Equal(t, models.StatusEchoUnavailable, asAlice[0].Status)
	assert.Equal(t, models.TextEchoUnavailable, asAlice[0].Text)
	assert.Equal(t, "second", asAlice[1].Text)
}

func TestLoadThreadOrdersEqualTimestampsByID(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := f.svc.Send(ctx, "alice", "bob", text)
		require.NoError(t, err)
	}

	thread, err := f.svc.LoadThread(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, thread, 4)
	for i := 1; i < len(thread); i++ {
		assert.Less(t, thread[i-1].ID, thread[i].ID)
	}
}

func TestConcurrentSendsHaveUniqueIDs(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := f.svc.Send(ctx, "alice", "bob", "burst")
			if assert.NoError(t, err) {
				ids <- msg.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		echo, err := f.store.GetSelfEcho(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, echo.MessageID)
	}
	assert.Len(t, seen, n)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, "alice", "bob", "ping")
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, "bob", "alice", "pong")
	require.NoError(t, err)

	n, err := f.svc.UnreadCount(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, f.svc.MarkRead(ctx, "alice", "bob"))
	first, err := f.store.GetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkRead(ctx, "alice", "bob"))
	second, err := f.store.GetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err = f.svc.UnreadCount(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	// The other direction is untouched.
	n, err = f.svc.UnreadCount(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkShownLeavesLaterArrivalsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "alice", "bob", "first")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, "bob", "alice", "reply")
	require.NoError(t, err)

	thread, err := f.svc.LoadThread(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, thread, 2)

	late, err := f.svc.Send(ctx, "alice", "bob", "sent while bob was reading")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkShown(ctx, "bob", thread))

	n, err := f.svc.UnreadCount(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := f.store.GetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == "alice" {
			assert.Equal(t, m.ID != late.ID, m.Read, "message %s", m.ID)
		}
	}

	// bob's own reply is not his to mark.
	n, err = f.svc.UnreadCount(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestContactsAndLastMessage(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	f := newFixture(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	last, err := f.svc.LastMessage(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = f.svc.Send(ctx, "alice", "bob", "hi bob")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, "carol", "alice", "hi alice")
	require.NoError(t, err)
	reply, err := f.svc.Send(ctx, "bob", "alice", "hi back")
	require.NoError(t, err)

	contacts, err := f.svc.Contacts(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, contacts)

	last, err = f.svc.LastMessage(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, reply.ID, last.ID)

	summaries, err := f.svc.ContactSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "bob", summaries[0].Identity.ID)
	assert.Equal(t, 1, summaries[0].Unread)
	assert.Equal(t, "carol", summaries[1].Identity.ID)
	assert.Equal(t, 1, summaries[1].Unread)

	contacts, err = f.svc.Contacts(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, contacts)
}
