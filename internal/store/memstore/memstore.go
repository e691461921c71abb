// Package memstore is an in-memory store.Store used by tests and the
// "memory" driver.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
)

type MemStore struct {
	idMu       sync.RWMutex
	identities map[string]models.Identity
	order      []string

	msgMu    sync.RWMutex
	messages []models.Message
	echoes   map[string]models.SelfEcho
}

func New() *MemStore {
	return &MemStore{
		identities: make(map[string]models.Identity),
		echoes:     make(map[string]models.SelfEcho),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) CreateIdentity(_ context.Context, id *models.Identity) error {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	if s.keyTaken(id.Email) {
		return apperr.ErrDuplicateEmail
	}
	if s.keyTaken(id.ExternalID) {
		return apperr.ErrExternalIDTaken
	}
	s.identities[id.ID] = *id
	s.order = append(s.order, id.ID)
	return nil
}

func (s *MemStore) GetIdentityByID(_ context.Context, id string) (*models.Identity, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	u, ok := s.identities[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &u, nil
}

func (s *MemStore) GetIdentityByLoginKey(_ context.Context, key string) (*models.Identity, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	for _, match := range []func(u *models.Identity) bool{
		func(u *models.Identity) bool { return u.ExternalID == key },
		func(u *models.Identity) bool { return u.Email == key },
	} {
		for _, id := range s.order {
			u := s.identities[id]
			if match(&u) {
				return &u, nil
			}
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *MemStore) LoginKeyTaken(_ context.Context, key string) (bool, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.keyTaken(key), nil
}

// keyTaken must be called with idMu held.
func (s *MemStore) keyTaken(key string) bool {
	for _, id := range s.order {
		u := s.identities[id]
		if u.Email == key || u.ExternalID == key {
			return true
		}
	}
	return false
}

func (s *MemStore) SearchIdentities(_ context.Context, query string, limit int) ([]models.Identity, error) {
	if query == "" {
		return nil, nil
	}
	q := strings.ToLower(query)

	s.idMu.RLock()
	defer s.idMu.RUnlock()
	var out []models.Identity
	for _, id := range s.order {
		u := s.identities[id]
		if strings.Contains(strings.ToLower(u.ExternalID), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			out = append(out, u)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	out := make([]models.Identity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.identities[id])
	}
	return out, nil
}

func (s *MemStore) UpdateProfile(_ context.Context, id string, update models.ProfileUpdate) (*models.Identity, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	u, ok := s.identities[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	update.Apply(&u)
	s.identities[id] = u
	return &u, nil
}

func (s *MemStore) UpdatePassword(_ context.Context, id, hash, salt string) error {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	u, ok := s.identities[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.PasswordHash, u.PasswordSalt = hash, salt
	s.identities[id] = u
	return nil
}

func (s *MemStore) UpdateKeys(_ context.Context, id, publicKey, privateKey string) error {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	u, ok := s.identities[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.PublicKey, u.PrivateKey = publicKey, privateKey
	s.identities[id] = u
	return nil
}

func (s *MemStore) AppendMessage(_ context.Context, msg *models.Message, echo *models.SelfEcho) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	s.messages = append(s.messages, *msg)
	if echo != nil {
		s.echoes[msg.ID] = *echo
	}
	return nil
}

func (s *MemStore) GetConversation(_ context.Context, a, b string) ([]models.Message, error) {
	s.msgMu.RLock()
	var out []models.Message
	for i := range s.messages {
		if s.messages[i].Between(a, b) {
			out = append(out, s.messages[i])
		}
	}
	s.msgMu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return models.Less(&out[i], &out[j]) })
	return out, nil
}

func (s *MemStore) GetSelfEcho(_ context.Context, messageID string) (*models.SelfEcho, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	e, ok := s.echoes[messageID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &e, nil
}

func (s *MemStore) MarkRead(_ context.Context, senderID, recipientID string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.RecipientID == recipientID {
			m.Read = true
		}
	}
	return nil
}

func (s *MemStore) MarkMessagesRead(_ context.Context, recipientID string, ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.RecipientID == recipientID && want[m.ID] {
			m.Read = true
		}
	}
	return nil
}

func (s *MemStore) CountUnread(_ context.Context, senderID, recipientID string) (int, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.RecipientID == recipientID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GetContacts(_ context.Context, userID string) ([]string, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == userID {
			add(m.RecipientID)
		}
		if m.RecipientID == userID {
			add(m.SenderID)
		}
	}
	return out, nil
}

func (s *MemStore) GetLastMessage(ctx context.Context, a, b string) (*models.Message, error) {
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
