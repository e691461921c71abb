package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string

	// Writes are serialized per store so read-modify-write cycles never
	// interleave.
	writeMu sync.Mutex
}

var _ store.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	external_id TEXT UNIQUE NOT NULL,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	password_salt TEXT NOT NULL,
	public_key TEXT NOT NULL DEFAULT '',
	private_key TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	study_year TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	created_seq BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	ciphertext TEXT NOT NULL,
	signature TEXT NOT NULL,
	sent_at BIGINT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS messages_pair ON messages (sender_id, recipient_id);

CREATE TABLE IF NOT EXISTS self_echoes (
	message_id TEXT PRIMARY KEY REFERENCES messages(id),
	self_ciphertext TEXT NOT NULL,
	self_signature TEXT NOT NULL
);
`

func (s *SQLStore) migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: create tables: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"), store.SchemaVersion)
		return err
	case err != nil:
		return err
	case version > store.SchemaVersion:
		return apperr.Wrap(apperr.ErrSchemaTooNew, fmt.Errorf("found %d, support %d", version, store.SchemaVersion))
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

const identityColumns = "id, display_name, external_id, email, password_hash, password_salt, public_key, private_key, department, study_year, phone"

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*models.Identity, error) {
	var u models.Identity
	err := row.Scan(&u.ID, &u.DisplayName, &u.ExternalID, &u.Email, &u.PasswordHash, &u.PasswordSalt,
		&u.PublicKey, &u.PrivateKey, &u.Department, &u.Year, &u.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) CreateIdentity(ctx context.Context, u *models.Identity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	taken, err := s.loginKeyTaken(ctx, tx, u.Email)
	if err != nil {
		return err
	}
	if taken {
		return apperr.ErrDuplicateEmail
	}
	if taken, err = s.loginKeyTaken(ctx, tx, u.ExternalID); err != nil {
		return err
	}
	if taken {
		return apperr.ErrExternalIDTaken
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_seq), 0) + 1 FROM identities").Scan(&seq); err != nil {
		return err
	}

	query := s.rebind("INSERT INTO identities (" + identityColumns + ", created_seq) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, query, u.ID, u.DisplayName, u.ExternalID, u.Email, u.PasswordHash, u.PasswordSalt,
		u.PublicKey, u.PrivateKey, u.Department, u.Year, u.Phone, seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	query := s.rebind("SELECT " + identityColumns + " FROM identities WHERE id = ?")
	return scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) GetIdentityByLoginKey(ctx context.Context, key string) (*models.Identity, error) {
	query := s.rebind("SELECT " + identityColumns + ` FROM identities WHERE external_id = ? OR email = ?
		ORDER BY CASE WHEN external_id = ? THEN 0 ELSE 1 END, created_seq LIMIT 1`)
	return scanIdentity(s.db.QueryRowContext(ctx, query, key, key, key))
}

func (s *SQLStore) LoginKeyTaken(ctx context.Context, key string) (bool, error) {
	return s.loginKeyTaken(ctx, s.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) loginKeyTaken(ctx context.Context, q queryRower, key string) (bool, error) {
	var taken bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM identities WHERE email = ? OR external_id = ?)")
	err := q.QueryRowContext(ctx, query, key, key).Scan(&taken)
	return taken, err
}

// escapeLike escapes LIKE wildcards so query matches literally.
func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

func (s *SQLStore) SearchIdentities(ctx context.Context, queryStr string, limit int) ([]models.Identity, error) {
	if queryStr == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(queryStr)) + "%"
	query := `SELECT ` + identityColumns + ` FROM identities
		WHERE LOWER(external_id) LIKE ? ESCAPE '\' OR LOWER(display_name) LIKE ? ESCAPE '\'
		ORDER BY created_seq`
	args := []any{pattern, pattern}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryIdentities(ctx, s.rebind(query), args...)
}

func (s *SQLStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	return s.queryIdentities(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY created_seq")
}

func (s *SQLStore) queryIdentities(ctx context.Context, query string, args ...any) ([]models.Identity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.Identity
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLStore) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.Identity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := scanIdentity(tx.QueryRowContext(ctx, s.rebind("SELECT "+identityColumns+" FROM identities WHERE id = ?"), id))
	if err != nil {
		return nil, err
	}
	update.Apply(u)

	query := s.rebind("UPDATE identities SET display_name = ?, department = ?, study_year = ?, phone = ? WHERE id = ?")
	if _, err := tx.ExecContext(ctx, query, u.DisplayName, u.Department, u.Year, u.Phone, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLStore) UpdatePassword(ctx context.Context, id, hash, salt string) error {
	return s.updateOne(ctx, "UPDATE identities SET password_hash = ?, password_salt = ? WHERE id = ?", hash, salt, id)
}

func (s *SQLStore) UpdateKeys(ctx context.Context, id, publicKey, privateKey string) error {
	return s.updateOne(ctx, "UPDATE identities SET public_key = ?, private_key = ? WHERE id = ?", publicKey, privateKey, id)
}

func (s *SQLStore) updateOne(ctx context.Context, query string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, m *models.Message, echo *models.SelfEcho) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind("INSERT INTO messages (id, sender_id, recipient_id, ciphertext, signature, sent_at, is_read) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, query, m.ID, m.SenderID, m.RecipientID, m.Ciphertext, m.Signature,
		m.Timestamp.UnixNano(), m.Read); err != nil {
		return err
	}
	if echo != nil {
		query = s.rebind("INSERT INTO self_echoes (message_id, self_ciphertext, self_signature) VALUES (?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, m.ID, echo.SelfCiphertext, echo.SelfSignature); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const messageColumns = "id, sender_id, recipient_id, ciphertext, signature, sent_at, is_read"

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Ciphertext, &m.Signature, &sentAt, &m.Read); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, sentAt).UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) GetConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY sent_at ASC, id ASC`, a, b, b, a)
}

func (s *SQLStore) GetSelfEcho(ctx context.Context, messageID string) (*models.SelfEcho, error) {
	e := models.SelfEcho{MessageID: messageID}
	query := s.rebind("SELECT self_ciphertext, self_signature FROM self_echoes WHERE message_id = ?")
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(&e.SelfCiphertext, &e.SelfSignature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLStore) MarkRead(ctx context.Context, senderID, recipientID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := s.rebind("UPDATE messages SET is_read = ? WHERE sender_id = ? AND recipient_id = ?")
	_, err := s.db.ExecContext(ctx, query, true, senderID, recipientID)
	return err
}

func (s *SQLStore) MarkMessagesRead(ctx context.Context, recipientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, true, recipientID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := s.rebind("UPDATE messages SET is_read = ? WHERE recipient_id = ? AND id IN (" + placeholders + ")")
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) CountUnread(ctx context.Context, senderID, recipientID string) (int, error) {
	var n int
	query := s.rebind("SELECT COUNT(*) FROM messages WHERE sender_id = ? AND recipient_id = ? AND is_read = ?")
	err := s.db.QueryRowContext(ctx, query, senderID, recipientID, false).Scan(&n)
	return n, err
}

func (s *SQLStore) GetContacts(ctx context.Context, userID string) ([]string, error) {
	query := s.rebind(`
		SELECT recipient_id FROM messages WHERE sender_id = ?
		UNION
		SELECT sender_id FROM messages WHERE recipient_id = ?
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) GetLastMessage(ctx context.Context, a, b string) (*models.Message, error) {
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY sent_at DESC, id DESC LIMIT 1`, a, b, b, a)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, apperr.ErrNotFound
	}
	return &msgs[0], nil
}
