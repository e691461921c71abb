// Package boltstore implements store.Store on an embedded bbolt database.
// Records are CBOR encoded; identities are indexed by email and external id.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
	bolt "go.etcd.io/bbolt"
)

const (
	metaBucket        = "meta"
	identitiesBucket  = "identities"
	emailIndexBucket  = "identities_by_email"
	externalIdxBucket = "identities_by_external_id"
	orderBucket       = "identity_order"
	messagesBucket    = "messages"
	echoesBucket      = "self_echoes"

	versionKey = "schema_version"
)

var buckets = []string{
	metaBucket,
	identitiesBucket,
	emailIndexBucket,
	externalIdxBucket,
	orderBucket,
	messagesBucket,
	echoesBucket,
}

type BoltStore struct {
	db  *bolt.DB
	enc cbor.EncMode
}

var _ store.Store = (*BoltStore)(nil)

// Open opens or creates the database at path. bbolt allows a single
// read-write transaction at a time, which gives each store its
// single-writer semantics.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &BoltStore{db: db, enc: enc}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		meta := tx.Bucket([]byte(metaBucket))
		raw := meta.Get([]byte(versionKey))
		if raw == nil {
			return meta.Put([]byte(versionKey), encodeUint64(store.SchemaVersion))
		}
		if v := binary.BigEndian.Uint64(raw); v > store.SchemaVersion {
			return apperr.Wrap(apperr.ErrSchemaTooNew, fmt.Errorf("found %d, support %d", v, store.SchemaVersion))
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func (s *BoltStore) put(bkt *bolt.Bucket, key string, v any) error {
	raw, err := s.enc.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(key), raw)
}

func getIdentity(tx *bolt.Tx, id string) (*models.Identity, error) {
	raw := tx.Bucket([]byte(identitiesBucket)).Get([]byte(id))
	if raw == nil {
		return nil, apperr.ErrNotFound
	}
	var u models.Identity
	if err := cbor.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("boltstore: decode identity %s: %w", id, err)
	}
	return &u, nil
}

// forEachIdentity visits identities in creation order.
func forEachIdentity(tx *bolt.Tx, fn func(u *models.Identity) (stop bool)) error {
	c := tx.Bucket([]byte(orderBucket)).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		u, err := getIdentity(tx, string(v))
		if err != nil {
			return err
		}
		if fn(u) {
			return nil
		}
	}
	return nil
}

func (s *BoltStore) CreateIdentity(_ context.Context, u *models.Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket([]byte(emailIndexBucket))
		externals := tx.Bucket([]byte(externalIdxBucket))
		if loginKeyTaken(tx, u.Email) {
			return apperr.ErrDuplicateEmail
		}
		if loginKeyTaken(tx, u.ExternalID) {
			return apperr.ErrExternalIDTaken
		}

		order := tx.Bucket([]byte(orderBucket))
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		if err := order.Put(encodeUint64(seq), []byte(u.ID)); err != nil {
			return err
		}
		if err := emails.Put([]byte(u.Email), []byte(u.ID)); err != nil {
			return err
		}
		if err := externals.Put([]byte(u.ExternalID), []byte(u.ID)); err != nil {
			return err
		}
		return s.put(tx.Bucket([]byte(identitiesBucket)), u.ID, u)
	})
}

func (s *BoltStore) GetIdentityByID(_ context.Context, id string) (*models.Identity, error) {
	var u *models.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		u, err = getIdentity(tx, id)
		return err
	})
	return u, err
}

func (s *BoltStore) GetIdentityByLoginKey(_ context.Context, key string) (*models.Identity, error) {
	var u *models.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(externalIdxBucket)).Get([]byte(key))
		if id == nil {
			id = tx.Bucket([]byte(emailIndexBucket)).Get([]byte(key))
		}
		if id == nil {
			return apperr.ErrNotFound
		}
		var err error
		u, err = getIdentity(tx, string(id))
		return err
	})
	return u, err
}

func (s *BoltStore) LoginKeyTaken(_ context.Context, key string) (bool, error) {
	var taken bool
	err := s.db.View(func(tx *bolt.Tx) error {
		taken = loginKeyTaken(tx, key)
		return nil
	})
	return taken, err
}

func loginKeyTaken(tx *bolt.Tx, key string) bool {
	return tx.Bucket([]byte(emailIndexBucket)).Get([]byte(key)) != nil ||
		tx.Bucket([]byte(externalIdxBucket)).Get([]byte(key)) != nil
}

func (s *BoltStore) SearchIdentities(_ context.Context, query string, limit int) ([]models.Identity, error) {
	if query == "" {
		return nil, nil
	}
	q := strings.ToLower(query)
	var out []models.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachIdentity(tx, func(u *models.Identity) bool {
			if strings.Contains(strings.ToLower(u.ExternalID), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
				out = append(out, *u)
			}
			return limit > 0 && len(out) == limit
		})
	})
	return out, err
}

func (s *BoltStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	var out []models.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachIdentity(tx, func(u *models.Identity) bool {
			out = append(out, *u)
			return false
		})
	})
	return out, err
}

func (s *BoltStore) modifyIdentity(id string, fn func(u *models.Identity)) (*models.Identity, error) {
	var u *models.Identity
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		u, err = getIdentity(tx, id)
		if err != nil {
			return err
		}
		fn(u)
		return s.put(tx.Bucket([]byte(identitiesBucket)), id, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *BoltStore) UpdateProfile(_ context.Context, id string, update models.ProfileUpdate) (*models.Identity, error) {
	return s.modifyIdentity(id, update.Apply)
}

func (s *BoltStore) UpdatePassword(_ context.Context, id, hash, salt string) error {
	_, err := s.modifyIdentity(id, func(u *models.Identity) {
		u.PasswordHash, u.PasswordSalt = hash, salt
	})
	return err
}

func (s *BoltStore) UpdateKeys(_ context.Context, id, publicKey, privateKey string) error {
	_, err := s.modifyIdentity(id, func(u *models.Identity) {
		u.PublicKey, u.PrivateKey = publicKey, privateKey
	})
	return err
}

func (s *BoltStore) AppendMessage(_ context.Context, m *models.Message, echo *models.SelfEcho) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.put(tx.Bucket([]byte(messagesBucket)), m.ID, m); err != nil {
			return err
		}
		if echo == nil {
			return nil
		}
		e := *echo
		e.MessageID = m.ID
		return s.put(tx.Bucket([]byte(echoesBucket)), m.ID, &e)
	})
}

// scanMessages decodes every message accepted by keep.
func scanMessages(tx *bolt.Tx, keep func(m *models.Message) bool) ([]models.Message, error) {
	var out []models.Message
	err := tx.Bucket([]byte(messagesBucket)).ForEach(func(k, v []byte) error {
		var m models.Message
		if err := cbor.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("boltstore: decode message %s: %w", k, err)
		}
		if keep(&m) {
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) GetConversation(_ context.Context, a, b string) ([]models.Message, error) {
	var out []models.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scanMessages(tx, func(m *models.Message) bool { return m.Between(a, b) })
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return models.Less(&out[i], &out[j]) })
	return out, nil
}

func (s *BoltStore) GetSelfEcho(_ context.Context, messageID string) (*models.SelfEcho, error) {
	var e models.SelfEcho
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(echoesBucket)).Get([]byte(messageID))
		if raw == nil {
			return apperr.ErrNotFound
		}
		return cbor.Unmarshal(raw, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) MarkRead(_ context.Context, senderID, recipientID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket))
		unread, err := scanMessages(tx, func(m *models.Message) bool {
			return m.SenderID == senderID && m.RecipientID == recipientID && !m.Read
		})
		if err != nil {
			return err
		}
		for i := range unread {
			unread[i].Read = true
			if err := s.put(bkt, unread[i].ID, &unread[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) MarkMessagesRead(_ context.Context, recipientID string, ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket))
		for _, id := range ids {
			raw := bkt.Get([]byte(id))
			if raw == nil {
				continue
			}
			var m models.Message
			if err := cbor.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("boltstore: decode message %s: %w", id, err)
			}
			if m.RecipientID != recipientID || m.Read {
				continue
			}
			m.Read = true
			if err := s.put(bkt, id, &m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) CountUnread(_ context.Context, senderID, recipientID string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		unread, err := scanMessages(tx, func(m *models.Message) bool {
			return m.SenderID == senderID && m.RecipientID == recipientID && !m.Read
		})
		n = len(unread)
		return err
	})
	return n, err
}

func (s *BoltStore) GetContacts(_ context.Context, userID string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := scanMessages(tx, func(m *models.Message) bool {
			var other string
			switch userID {
			case m.SenderID:
				other = m.RecipientID
			case m.RecipientID:
				other = m.SenderID
			default:
				return false
			}
			if !seen[other] {
				seen[other] = true
				out = append(out, other)
			}
			return false
		})
		return err
	})
	return out, err
}

func (s *BoltStore) GetLastMessage(ctx context.Context, a, b string) (*models.Message, error) {
	msgs, err := s.GetConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, apperr.ErrNotFound
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}
