package models

import "time"

// Identity is a registered user. PrivateKey lives on the record alongside
// PublicKey; it is never serialized to API responses.
type Identity struct {
	ID           string `json:"id" cbor:"1,keyasint"`
	DisplayName  string `json:"display_name" cbor:"2,keyasint"`
	ExternalID   string `json:"external_id" cbor:"3,keyasint"`
	Email        string `json:"email" cbor:"4,keyasint"`
	PasswordHash string `json:"-" cbor:"5,keyasint"`
	PasswordSalt string `json:"-" cbor:"6,keyasint"`
	PublicKey    string `json:"public_key" cbor:"7,keyasint"`
	PrivateKey   string `json:"-" cbor:"8,keyasint"`
	Department   string `json:"department,omitempty" cbor:"9,keyasint,omitempty"`
	Year         string `json:"year,omitempty" cbor:"10,keyasint,omitempty"`
	Phone        string `json:"phone,omitempty" cbor:"11,keyasint,omitempty"`
}

// HasKeys reports whether the identity's key pair has been generated.
// An empty string means no key material.
func (i *Identity) HasKeys() bool {
	return i.PublicKey != "" && i.PrivateKey != ""
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Department  *string `json:"department,omitempty"`
	Year        *string `json:"year,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// Apply copies the set fields of u onto id.
func (u ProfileUpdate) Apply(id *Identity) {
	if u.DisplayName != nil {
		id.DisplayName = *u.DisplayName
	}
	if u.Department != nil {
		id.Department = *u.Department
	}
	if u.Year != nil {
		id.Year = *u.Year
	}
	if u.Phone != nil {
		id.Phone = *u.Phone
	}
}

// Message is a stored message. Ciphertext is always encrypted under the
// recipient's public key and Signature is the sender's signature over it.
type Message struct {
	ID          string    `json:"id" cbor:"1,keyasint"`
	SenderID    string    `json:"sender_id" cbor:"2,keyasint"`
	RecipientID string    `json:"recipient_id" cbor:"3,keyasint"`
	Ciphertext  string    `json:"ciphertext" cbor:"4,keyasint"`
	Signature   string    `json:"signature" cbor:"5,keyasint"`
	Timestamp   time.Time `json:"timestamp" cbor:"6,keyasint"`
	Read        bool      `json:"read" cbor:"7,keyasint"`
}

// Between reports whether m belongs to the conversation of a and b.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// Less orders messages by timestamp, breaking ties by id.
func Less(a, b *Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// SelfEcho is the sender's own copy of a message, encrypted under the
// sender's public key so they can redisplay what they sent.
type SelfEcho struct {
	MessageID      string `json:"message_id" cbor:"1,keyasint"`
	SelfCiphertext string `json:"self_ciphertext" cbor:"2,keyasint"`
	SelfSignature  string `json:"self_signature" cbor:"3,keyasint"`
}

type DisplayStatus string

const (
	StatusOK               DisplayStatus = "ok"
	StatusSignatureFailed  DisplayStatus = "signature_failed"
	StatusDecryptionFailed DisplayStatus = "decryption_failed"
	StatusEchoUnavailable  DisplayStatus = "echo_unavailable"
)

// Texts shown in place of a message body that could not be rendered.
const (
	TextSignatureFailed  = "[signature verification failed]"
	TextDecryptionFailed = "[decryption failed]"
	TextEchoUnavailable  = "[message unavailable]"
)

// DisplayMessage is a message as rendered for one viewer.
type DisplayMessage struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Read        bool          `json:"read"`
	Outgoing    bool          `json:"outgoing"`
	Text        string        `json:"text"`
	Status      DisplayStatus `json:"status"`
}

// ContactSummary is one entry of a viewer's contact list.
type ContactSummary struct {
	Identity    Identity `json:"identity"`
	Unread      int      `json:"unread"`
	LastMessage *Message `json:"last_message,omitempty"`
}
