// Package conversation sends end-to-end encrypted messages and renders
// threads for a viewer.
//
// Every message is stored twice: the primary ciphertext under the
// recipient's key, and a self-echo under the sender's key so the sender can
// read back what they wrote. Both are written in one store operation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/crypto"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/metrics"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const messageIDPrefix = "msg"

type Service struct {
	identities store.IdentityStore
	messages   store.MessageStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now for message timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(identities store.IdentityStore, messages store.MessageStore, opts ...Option) *Service {
	s := &Service{
		identities: identities,
		messages:   messages,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger).With("component", "conversation")
	return s
}

// NewMessageID returns "msg-<unix millis>-<random>". The random part keeps
// ids unique for sends within the same millisecond.
func NewMessageID(at time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", messageIDPrefix, at.UnixMilli(), random)
}

// Send encrypts plaintext for the recipient, signs it as the sender and
// stores it together with the sender's self-echo. The message is durable
// when Send returns.
func (s *Service) Send(ctx context.Context, senderID, recipientID, plaintext string) (*models.Message, error) {
	msg, err := s.send(ctx, senderID, recipientID, plaintext)
	if err != nil {
		s.metrics.ObserveSend(resultOf(err))
		return nil, err
	}
	s.metrics.ObserveSend("ok")
	return msg, nil
}

func (s *Service) send(ctx context.Context, senderID, recipientID, plaintext string) (*models.Message, error) {
	if plaintext == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, errors.New("message text is empty"))
	}
	if senderID == recipientID {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, errors.New("cannot message yourself"))
	}

	sender, err := s.identities.GetIdentityByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.identities.GetIdentityByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !sender.HasKeys() || recipient.PublicKey == "" {
		return nil, apperr.ErrKeysPending
	}

	ciphertext, err := crypto.Encrypt(plaintext, recipient.PublicKey)
	if err != nil {
		s.logger.Warn("encrypt for recipient failed", "sender_id", senderID, "recipient_id", recipientID, "err", err)
		return nil, err
	}
	signature, err := crypto.Sign(ciphertext, sender.PrivateKey)
	if err != nil {
		return nil, err
	}
	selfCiphertext, err := crypto.Encrypt(plaintext, sender.PublicKey)
	if err != nil {
		s.logger.Warn("encrypt self-echo failed", "sender_id", senderID, "err", err)
		return nil, err
	}
	selfSignature, err := crypto.Sign(selfCiphertext, sender.PrivateKey)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg := &models.Message{
		ID:          NewMessageID(now),
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  ciphertext,
		Signature:   signature,
		Timestamp:   now,
	}
	echo := &models.SelfEcho{
		MessageID:      msg.ID,
		SelfCiphertext: selfCiphertext,
		SelfSignature:  selfSignature,
	}
	if err := s.messages.AppendMessage(ctx, msg, echo); err != nil {
		s.logger.Error("persisting message failed", "message_id", msg.ID, "err", err)
		return nil, err
	}
	s.logger.Debug("message sent", "message_id", msg.ID, "sender_id", senderID, "recipient_id", recipientID)
	return msg, nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrKeysPending):
		return "keys_pending"
	case errors.Is(err, apperr.ErrEncryption):
		return "encryption_failed"
	default:
		return "error"
	}
}

// LoadThread returns the conversation between viewerID and peerID as the
// viewer sees it, oldest first. A message that cannot be decrypted or
// verified is rendered with a placeholder text and a matching status; it
// never fails the whole thread.
func (s *Service) LoadThread(ctx context.Context, viewerID, peerID string) ([]models.DisplayMessage, error) {
	viewer, err := s.identities.GetIdentityByID(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	peer, err := s.identities.GetIdentityByID(ctx, peerID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.GetConversation(ctx, viewerID, peerID)
	if err != nil {
		return nil, err
	}

	out := make([]models.DisplayMessage, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		d := models.DisplayMessage{
			ID:          m.ID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Timestamp:   m.Timestamp,
			Read:        m.Read,
			Outgoing:    m.SenderID == viewerID,
		}
		if d.Outgoing {
			d.Text, d.Status, err = s.renderOwn(ctx, viewer, m)
			if err != nil {
				return nil, err
			}
		} else {
			d.Text, d.Status = s.renderIncoming(viewer, peer, m)
		}
		s.metrics.ObserveRendered(string(d.Status))
		out = append(out, d)
	}
	return out, nil
}

// renderOwn recovers the viewer's own message from its self-echo. The echo
// signature is not checked.
func (s *Service) renderOwn(ctx context.Context, viewer *models.Identity, m *models.Message) (string, models.DisplayStatus, error) {
	echo, err := s.messages.GetSelfEcho(ctx, m.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("self-echo missing", "message_id", m.ID)
		return models.TextEchoUnavailable, models.StatusEchoUnavailable, nil
	}
	if err != nil {
		return "", "", err
	}
	text, err := crypto.Decrypt(echo.SelfCiphertext, viewer.PrivateKey)
	if err != nil {
		s.logger.Warn("self-echo decryption failed", "message_id", m.ID, "err", err)
		return models.TextDecryptionFailed, models.StatusDecryptionFailed, nil
	}
	return text, models.StatusOK, nil
}

func (s *Service) renderIncoming(viewer, sender *models.Identity, m *models.Message) (string, models.DisplayStatus) {
	text, err := crypto.Decrypt(m.Ciphertext, viewer.PrivateKey)
	if err != nil {
		s.logger.Warn("message decryption failed", "message_id", m.ID, "err", err)
		return models.TextDecryptionFailed, models.StatusDecryptionFailed
	}
	if !crypto.Verify(m.Ciphertext, m.Signature, sender.PublicKey) {
		s.logger.Warn("message signature invalid", "message_id", m.ID, "sender_id", sender.ID)
		return models.TextSignatureFailed, models.StatusSignatureFailed
	}
	return text, models.StatusOK
}

// MarkRead marks every message from senderID to recipientID as read.
// Calling it again changes nothing.
func (s *Service) MarkRead(ctx context.Context, senderID, recipientID string) error {
	return s.messages.MarkRead(ctx, senderID, recipientID)
}

// MarkShown marks the incoming messages of a thread returned by LoadThread
// as read. Messages that arrived after the thread was loaded stay unread.
func (s *Service) MarkShown(ctx context.Context, viewerID string, thread []models.DisplayMessage) error {
	var ids []string
	for i := range thread {
		if d := &thread[i]; !d.Outgoing && !d.Read {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.messages.MarkMessagesRead(ctx, viewerID, ids)
}

func (s *Service) UnreadCount(ctx context.Context, senderID, recipientID string) (int, error) {
	return s.messages.CountUnread(ctx, senderID, recipientID)
}

// Contacts returns the ids of everyone userID has exchanged messages with.
func (s *Service) Contacts(ctx context.Context, userID string) ([]string, error) {
	return s.messages.GetContacts(ctx, userID)
}

// LastMessage returns the latest message between a and b, or nil when they
// have no history.
func (s *Service) LastMessage(ctx context.Context, a, b string) (*models.Message, error) {
	m, err := s.messages.GetLastMessage(ctx, a, b)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// ContactSummaries lists userID's contacts with their unread count and last
// message, most recent conversation first.
func (s *Service) ContactSummaries(ctx context.Context, userID string) ([]models.ContactSummary, error) {
	ids, err := s.Contacts(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]models.ContactSummary, 0, len(ids))
	for _, id := range ids {
		u, err := s.identities.GetIdentityByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		unread, err := s.UnreadCount(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		last, err := s.LastMessage(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ContactSummary{Identity: *u, Unread: unread, LastMessage: last})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return models.Less(b, a)
		}
	})
	return out, nil
}
