// Package storetest holds the behavioural tests every store.Store backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The store is closed by the caller.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndLookup", testCreateAndLookup},
		{"DuplicateEmail", testDuplicateEmail},
		{"DuplicateExternalID", testDuplicateExternalID},
		{"LoginKeyNamespace", testLoginKeyNamespace},
		{"EmailCheckedBeforeExternalID", testEmailCheckedBeforeExternalID},
		{"Search", testSearch},
		{"ProfileAndPassword", testProfileAndPassword},
		{"UpdateKeys", testUpdateKeys},
		{"ConversationOrdering", testConversationOrdering},
		{"SelfEcho", testSelfEcho},
		{"MarkReadAndUnread", testMarkReadAndUnread},
		{"MarkMessagesRead", testMarkMessagesRead},
		{"ContactsAndLastMessage", testContactsAndLastMessage},
		{"ConcurrentAppend", testConcurrentAppend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func identity(n int, name string) *models.Identity {
	return &models.Identity{
		ID:           fmt.Sprintf("id-%d", n),
		DisplayName:  name,
		ExternalID:   fmt.Sprintf("s%08d", n),
		Email:        fmt.Sprintf("user%d@student.edu", n),
		PasswordHash: "hash",
		PasswordSalt: "salt",
		PublicKey:    "pub",
		PrivateKey:   "priv",
	}
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func message(id, from, to string, offset time.Duration) *models.Message {
	return &models.Message{
		ID:          id,
		SenderID:    from,
		RecipientID: to,
		Ciphertext:  "ct-" + id,
		Signature:   "sig-" + id,
		Timestamp:   base.Add(offset),
	}
}

func testCreateAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := identity(1, "Alice")
	alice.Department = "Computer Science"
	require.NoError(t, s.CreateIdentity(ctx, alice))

	got, err := s.GetIdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, *alice, *got)

	got, err = s.GetIdentityByLoginKey(ctx, alice.Email)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = s.GetIdentityByLoginKey(ctx, alice.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.GetIdentityByLoginKey(ctx, "ALICE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.GetIdentityByID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, key := range []string{alice.ExternalID, alice.Email} {
		taken, err := s.LoginKeyTaken(ctx, key)
		require.NoError(t, err)
		assert.True(t, taken, key)
	}
	taken, err := s.LoginKeyTaken(ctx, "s99999999")
	require.NoError(t, err)
	assert.False(t, taken)

	all, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDuplicateEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, identity(1, "Alice")))

	dup := identity(2, "Mallory")
	dup.Email = "user1@student.edu"
	assert.ErrorIs(t, s.CreateIdentity(ctx, dup), apperr.ErrDuplicateEmail)

	_, err := s.GetIdentityByID(ctx, dup.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testDuplicateExternalID(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, identity(1, "Alice")))

	dup := identity(2, "Bob")
	dup.ExternalID = "s00000001"
	assert.ErrorIs(t, s.CreateIdentity(ctx, dup), apperr.ErrExternalIDTaken)

	_, err := s.GetIdentityByID(ctx, dup.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// An email may not reuse another identity's external id, nor the reverse,
// so every backend resolves a login key to the same identity.
func testLoginKeyNamespace(t *testing.T, s store.Store) {
	ctx := context.Background()
	john := identity(1, "John")
	require.NoError(t, s.CreateIdentity(ctx, john))

	impostor := identity(2, "Eve")
	impostor.Email = john.ExternalID
	assert.ErrorIs(t, s.CreateIdentity(ctx, impostor), apperr.ErrDuplicateEmail)

	impostor = identity(2, "Eve")
	impostor.ExternalID = john.Email
	assert.ErrorIs(t, s.CreateIdentity(ctx, impostor), apperr.ErrExternalIDTaken)

	_, err := s.GetIdentityByID(ctx, impostor.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, key := range []string{john.ExternalID, john.Email} {
		got, err := s.GetIdentityByLoginKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, john.ID, got.ID, key)
	}
}

func testEmailCheckedBeforeExternalID(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 1; i <= 8; i++ {
		require.NoError(t, s.CreateIdentity(ctx, identity(i, fmt.Sprintf("User %d", i))))
	}

	// Collides with one identity by email and another by external id.
	clash := identity(9, "Clash")
	for i := 1; i <= 7; i++ {
		clash.Email = identity(i, "").Email
		clash.ExternalID = identity(i+1, "").ExternalID
		assert.ErrorIs(t, s.CreateIdentity(ctx, clash), apperr.ErrDuplicateEmail)
	}
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, identity(1, "Alice Liddell")))
	require.NoError(t, s.CreateIdentity(ctx, identity(2, "Bob")))
	require.NoError(t, s.CreateIdentity(ctx, identity(3, "Alex")))
	require.NoError(t, s.CreateIdentity(ctx, identity(4, "100% Ruby_Name")))

	users, err := s.SearchIdentities(ctx, "AL", 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = s.SearchIdentities(ctx, "00000002", 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Bob", users[0].DisplayName)

	users, err = s.SearchIdentities(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = s.SearchIdentities(ctx, "%", 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "100% Ruby_Name", users[0].DisplayName)

	users, err = s.SearchIdentities(ctx, "s0000000", 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	for i := 5; i <= 16; i++ {
		require.NoError(t, s.CreateIdentity(ctx, identity(i, fmt.Sprintf("Alex %d", i))))
	}
	users, err = s.SearchIdentities(ctx, "alex", 0)
	require.NoError(t, err)
	assert.Len(t, users, 13)
	assert.Equal(t, "Alex", users[0].DisplayName)
}

func testProfileAndPassword(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := identity(1, "Alice")
	require.NoError(t, s.CreateIdentity(ctx, alice))

	name, year := "Alice L.", "3rd Year"
	got, err := s.UpdateProfile(ctx, alice.ID, models.ProfileUpdate{DisplayName: &name, Year: &year})
	require.NoError(t, err)
	assert.Equal(t, name, got.DisplayName)
	assert.Equal(t, year, got.Year)
	assert.Equal(t, alice.ExternalID, got.ExternalID)
	assert.Equal(t, alice.Email, got.Email)

	require.NoError(t, s.UpdatePassword(ctx, alice.ID, "newhash", "newsalt"))
	got, err = s.GetIdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)
	assert.Equal(t, "newsalt", got.PasswordSalt)
	assert.Equal(t, name, got.DisplayName)

	_, err = s.UpdateProfile(ctx, "missing", models.ProfileUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePassword(ctx, "missing", "h", "s"), apperr.ErrNotFound)
}

func testUpdateKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := identity(1, "Alice")
	alice.PublicKey, alice.PrivateKey = "", ""
	require.NoError(t, s.CreateIdentity(ctx, alice))

	got, err := s.GetIdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.HasKeys())

	require.NoError(t, s.UpdateKeys(ctx, alice.ID, "pub2", "priv2"))
	got, err = s.GetIdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.HasKeys())
	assert.Equal(t, "pub2", got.PublicKey)

	assert.ErrorIs(t, s.UpdateKeys(ctx, "missing", "p", "q"), apperr.ErrNotFound)
}

func testConversationOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, message("m3", "a", "b", 2*time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m1", "b", "a", 0), nil))
	// Same timestamp as m1; ordered after it by id.
	require.NoError(t, s.AppendMessage(ctx, message("m2", "a", "b", 0), nil))
	require.NoError(t, s.AppendMessage(ctx, message("x1", "a", "c", time.Second), nil))

	msgs, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.True(t, msgs[2].Timestamp.Equal(base.Add(2*time.Second)))
	assert.Equal(t, "ct-m3", msgs[2].Ciphertext)
	assert.Equal(t, "sig-m3", msgs[2].Signature)

	rev, err := s.GetConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, msgs, rev)

	none, err := s.GetConversation(ctx, "b", "c")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSelfEcho(t *testing.T, s store.Store) {
	ctx := context.Background()
	echo := &models.SelfEcho{MessageID: "m1", SelfCiphertext: "self-ct", SelfSignature: "self-sig"}
	require.NoError(t, s.AppendMessage(ctx, message("m1", "a", "b", 0), echo))
	require.NoError(t, s.AppendMessage(ctx, message("m2", "a", "b", time.Second), nil))

	got, err := s.GetSelfEcho(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, *echo, *got)

	_, err = s.GetSelfEcho(ctx, "m2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testMarkMessagesRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, message("m1", "a", "b", 0), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m2", "a", "b", time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m3", "a", "b", 2*time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m4", "b", "a", 3*time.Second), nil))

	require.NoError(t, s.MarkMessagesRead(ctx, "b", []string{"m1", "m2", "m4", "missing"}))
	require.NoError(t, s.MarkMessagesRead(ctx, "b", nil))

	n, err := s.CountUnread(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "m3 was not listed")

	n, err = s.CountUnread(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "m4 is not addressed to b")

	msgs, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.True(t, msgs[0].Read)
	assert.True(t, msgs[1].Read)
	assert.False(t, msgs[2].Read)
	assert.False(t, msgs[3].Read)
}

func testMarkReadAndUnread(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, message("m1", "a", "b", 0), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m2", "a", "b", time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m3", "b", "a", 2*time.Second), nil))

	n, err := s.CountUnread(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkRead(ctx, "a", "b"))
	n, err = s.CountUnread(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	once, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(ctx, "a", "b"))
	twice, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	n, err = s.CountUnread(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testContactsAndLastMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, message("m1", "a", "b", 0), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m2", "c", "a", time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m3", "b", "a", 2*time.Second), nil))
	require.NoError(t, s.AppendMessage(ctx, message("m4", "b", "c", 3*time.Second), nil))

	contacts, err := s.GetContacts(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, contacts)

	contacts, err = s.GetContacts(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, contacts)

	last, err := s.GetLastMessage(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "m3", last.ID)

	_, err = s.GetLastMessage(ctx, "a", "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testConcurrentAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%02d", i)
			echo := &models.SelfEcho{MessageID: id, SelfCiphertext: "self-" + id, SelfSignature: "sig"}
			errs <- s.AppendMessage(ctx, message(id, "a", "b", 0), echo)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%02d", i), m.ID)
		echo, err := s.GetSelfEcho(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "self-"+m.ID, echo.SelfCiphertext)
	}
}
