package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
	"github.com/pliu/cipherchat/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTemp(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chatty.bolt"))
	require.NoError(t, err)
	return s
}

func TestBoltContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestTimestampPrecisionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatty.bolt")
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &models.Message{
		ID: "m1", SenderID: "a", RecipientID: "b", Ciphertext: "ct", Signature: "sig", Timestamp: ts,
	}, &models.SelfEcho{SelfCiphertext: "self", SelfSignature: "ssig"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	msgs, err := s.GetConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, ts.Equal(msgs[0].Timestamp), "got %v", msgs[0].Timestamp)

	echo, err := s.GetSelfEcho(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", echo.MessageID)
}

func TestRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatty.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(versionKey), encodeUint64(store.SchemaVersion+1))
	}))
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, apperr.ErrSchemaTooNew)
}
