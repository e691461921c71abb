package store

import (
	"context"

	"github.com/pliu/cipherchat/internal/models"
)

// SchemaVersion is the persisted layout version written by every durable
// backend. A store carrying a newer version is refused with
// apperr.ErrSchemaTooNew.
const SchemaVersion = 1

// IdentityStore persists identities. Implementations serialize writes, and
// lookups that miss return apperr.ErrNotFound.
//
// Emails and external ids share one login-key namespace: no email may equal
// any external id and vice versa, so a login key names at most one identity.
type IdentityStore interface {
	// CreateIdentity inserts id atomically. The email is checked first and
	// fails with apperr.ErrDuplicateEmail when it is taken as an email or an
	// external id; the external id then fails with apperr.ErrExternalIDTaken
	// on the same terms. Nothing is persisted on failure.
	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentityByID(ctx context.Context, id string) (*models.Identity, error)
	// GetIdentityByLoginKey matches key exactly against external id, then
	// email.
	GetIdentityByLoginKey(ctx context.Context, key string) (*models.Identity, error)
	// LoginKeyTaken reports whether key is in use as an email or an
	// external id.
	LoginKeyTaken(ctx context.Context, key string) (bool, error)
	// SearchIdentities matches query case-insensitively as a substring of
	// external id or display name, in creation order. An empty query
	// returns nothing; limit <= 0 returns every match.
	SearchIdentities(ctx context.Context, query string, limit int) ([]models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.Identity, error)
	UpdatePassword(ctx context.Context, id, hash, salt string) error
	UpdateKeys(ctx context.Context, id, publicKey, privateKey string) error
}

// MessageStore persists messages and their self-echoes.
type MessageStore interface {
	// AppendMessage stores msg and echo as one unit: a concurrent reader
	// observes both or neither.
	AppendMessage(ctx context.Context, msg *models.Message, echo *models.SelfEcho) error
	// GetConversation returns the messages between a and b ordered by
	// timestamp, then id.
	GetConversation(ctx context.Context, a, b string) ([]models.Message, error)
	GetSelfEcho(ctx context.Context, messageID string) (*models.SelfEcho, error)
	MarkRead(ctx context.Context, senderID, recipientID string) error
	// MarkMessagesRead marks the listed messages addressed to recipientID
	// as read. Unknown ids and messages for anyone else are skipped.
	MarkMessagesRead(ctx context.Context, recipientID string, ids []string) error
	CountUnread(ctx context.Context, senderID, recipientID string) (int, error)
	// GetContacts returns the deduplicated ids of everyone userID has
	// exchanged messages with, in no particular order.
	GetContacts(ctx context.Context, userID string) ([]string, error)
	// GetLastMessage returns the latest message between a and b, or
	// apperr.ErrNotFound.
	GetLastMessage(ctx context.Context, a, b string) (*models.Message, error)
}

type Store interface {
	IdentityStore
	MessageStore
	Close() error
}
