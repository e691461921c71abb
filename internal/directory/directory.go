// Package directory maps identities to their profile data and public keys.
// It owns registration, sign-in and the credential lifecycle.
package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/pliu/cipherchat/internal/crypto"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/metrics"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const (
	ExternalIDPrefix = "s"

	// maxExternalIDAttempts bounds collision retries; with 90 million
	// candidates it is only reached when the space is nearly exhausted.
	maxExternalIDAttempts = 32
)

// ExternalIDPattern matches generated external ids: the prefix and eight
// digits without a leading zero.
var ExternalIDPattern = regexp.MustCompile(`^s[1-9][0-9]{7}$`)

// GenerateExternalID returns a random candidate external id. Uniqueness is
// checked by the caller.
func GenerateExternalID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", ExternalIDPrefix, n.Int64()+10000000), nil
}

// PasswordHasher derives and checks stored password hashes. *crypto.Hasher
// implements it.
type PasswordHasher interface {
	Hash(password, salt string) (hash, usedSalt string, err error)
	Verify(password, storedHash, storedSalt string) (bool, error)
	NeedsRehash(storedHash string) bool
}

type Directory struct {
	store   store.IdentityStore
	hasher  PasswordHasher
	keys    crypto.KeyGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics

	newExternalID func() (string, error)

	// Verified against when the login key is unknown, so both sign-in
	// failures cost one derivation.
	dummyHash, dummySalt string
}

type Option func(*Directory)

func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

func WithKeyGenerator(g crypto.KeyGenerator) Option {
	return func(d *Directory) { d.keys = g }
}

func WithExternalIDGenerator(fn func() (string, error)) Option {
	return func(d *Directory) { d.newExternalID = fn }
}

func New(s store.IdentityStore, hasher PasswordHasher, opts ...Option) *Directory {
	d := &Directory{
		store:         s,
		hasher:        hasher,
		keys:          crypto.RSAKeyGenerator{},
		newExternalID: GenerateExternalID,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrDefault(d.logger).With("component", "directory")

	d.dummySalt = strings.Repeat("0", 2*crypto.SaltSize)
	if hash, _, err := hasher.Hash("", d.dummySalt); err == nil {
		d.dummyHash = hash
	} else {
		d.logger.Warn("dummy password hash unavailable", "err", err)
	}
	return d
}

// validEmail requires a local part and a domain. Emails and external ids
// share the login-key namespace; an "@" keeps them apart.
func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	return ok && local != "" && domain != "" && !ExternalIDPattern.MatchString(email)
}

// Register creates an identity with a fresh external id, a salted password
// hash and a key pair. Nothing is persisted unless every step succeeds.
func (d *Directory) Register(ctx context.Context, name, email, password string) (*models.Identity, error) {
	return d.register(ctx, &models.Identity{DisplayName: name, Email: email}, password)
}

func (d *Directory) register(ctx context.Context, u *models.Identity, password string) (*models.Identity, error) {
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	u.Email = strings.TrimSpace(u.Email)
	if u.DisplayName == "" || u.Email == "" {
		d.metrics.ObserveRegistration("invalid")
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, errors.New("name and email are required"))
	}
	if !validEmail(u.Email) {
		d.logger.Info("registration rejected", "reason", "invalid_email", "email", u.Email)
		d.metrics.ObserveRegistration("invalid")
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, errors.New("email must have the form local@domain"))
	}

	taken, err := d.store.LoginKeyTaken(ctx, u.Email)
	if err != nil {
		d.metrics.ObserveRegistration("error")
		return nil, err
	}
	if taken {
		d.logger.Info("registration rejected", "reason", "duplicate_email", "email", u.Email)
		d.metrics.ObserveRegistration("duplicate_email")
		return nil, apperr.ErrDuplicateEmail
	}

	hash, salt, err := d.hasher.Hash(password, "")
	if err != nil {
		d.logger.Error("password hashing failed", "email", u.Email, "err", err)
		d.metrics.ObserveRegistration("error")
		return nil, apperr.Wrap(apperr.ErrPasswordDerivation, err)
	}
	u.PasswordHash, u.PasswordSalt = hash, salt

	kp, err := d.keys.Generate()
	if err != nil {
		d.logger.Error("key generation failed", "email", u.Email, "err", err)
		d.metrics.ObserveRegistration("key_generation_failed")
		return nil, apperr.Wrap(apperr.ErrKeyGeneration, err)
	}
	u.PublicKey, u.PrivateKey = kp.PublicKey, kp.PrivateKey
	u.ID = uuid.NewString()

	fixedExternalID := u.ExternalID != ""
	for attempt := 0; attempt < maxExternalIDAttempts; attempt++ {
		if !fixedExternalID {
			if u.ExternalID, err = d.uniqueExternalID(ctx); err != nil {
				d.metrics.ObserveRegistration("error")
				return nil, err
			}
		}

		err = d.store.CreateIdentity(ctx, u)
		switch {
		case err == nil:
			d.logger.Info("identity registered", "identity_id", u.ID, "external_id", u.ExternalID)
			d.metrics.ObserveRegistration("ok")
			return u, nil
		case errors.Is(err, apperr.ErrDuplicateEmail):
			d.logger.Info("registration rejected", "reason", "duplicate_email", "email", u.Email)
			d.metrics.ObserveRegistration("duplicate_email")
			return nil, apperr.ErrDuplicateEmail
		case errors.Is(err, apperr.ErrExternalIDTaken) && !fixedExternalID:
			d.logger.Debug("external id collision", "external_id", u.ExternalID)
			continue
		default:
			d.logger.Error("persisting identity failed", "email", u.Email, "err", err)
			d.metrics.ObserveRegistration("error")
			return nil, err
		}
	}
	d.metrics.ObserveRegistration("error")
	return nil, fmt.Errorf("directory: no free external id after %d attempts", maxExternalIDAttempts)
}

func (d *Directory) uniqueExternalID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxExternalIDAttempts; attempt++ {
		id, err := d.newExternalID()
		if err != nil {
			return "", fmt.Errorf("generate external id: %w", err)
		}
		taken, err := d.store.LoginKeyTaken(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("directory: no free external id after %d attempts", maxExternalIDAttempts)
}

// SignIn resolves loginKey (email or external id) and verifies password.
// Unknown identities and wrong passwords both yield
// apperr.ErrInvalidCredentials; only the log tells them apart.
func (d *Directory) SignIn(ctx context.Context, loginKey, password string) (*models.Identity, error) {
	u, err := d.store.GetIdentityByLoginKey(ctx, loginKey)
	if errors.Is(err, apperr.ErrNotFound) {
		_, _ = d.hasher.Verify(password, d.dummyHash, d.dummySalt)
		d.logger.Warn("sign-in failed", "reason", "not_found", "login", loginKey)
		d.metrics.ObserveSignIn("invalid_credentials")
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		d.metrics.ObserveSignIn("error")
		return nil, err
	}

	ok, err := d.hasher.Verify(password, u.PasswordHash, u.PasswordSalt)
	if err != nil {
		d.logger.Error("sign-in failed", "reason", "derivation_error", "identity_id", u.ID, "err", err)
		d.metrics.ObserveSignIn("error")
		return nil, apperr.Wrap(apperr.ErrPasswordDerivation, err)
	}
	if !ok {
		d.logger.Warn("sign-in failed", "reason", "wrong_password", "identity_id", u.ID)
		d.metrics.ObserveSignIn("invalid_credentials")
		return nil, apperr.ErrInvalidCredentials
	}

	if d.hasher.NeedsRehash(u.PasswordHash) {
		d.rehash(ctx, u, password)
	}

	d.logger.Info("identity signed in", "identity_id", u.ID)
	d.metrics.ObserveSignIn("ok")
	return u, nil
}

// rehash re-derives a verified password under the configured round count.
// Failure leaves the old hash in place, which still verifies.
func (d *Directory) rehash(ctx context.Context, u *models.Identity, password string) {
	hash, salt, err := d.hasher.Hash(password, "")
	if err == nil {
		err = d.store.UpdatePassword(ctx, u.ID, hash, salt)
	}
	if err != nil {
		d.logger.Warn("password rehash failed", "identity_id", u.ID, "err", err)
		return
	}
	u.PasswordHash, u.PasswordSalt = hash, salt
	d.logger.Info("password rehashed", "identity_id", u.ID)
}

// FindByLoginKey looks up an identity by exact email or external id.
func (d *Directory) FindByLoginKey(ctx context.Context, key string) (*models.Identity, error) {
	return d.store.GetIdentityByLoginKey(ctx, key)
}

func (d *Directory) Get(ctx context.Context, id string) (*models.Identity, error) {
	return d.store.GetIdentityByID(ctx, id)
}

// Search returns every identity whose external id or display name contains
// query, ignoring case. A blank query returns nothing.
func (d *Directory) Search(ctx context.Context, query string) ([]models.Identity, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return d.store.SearchIdentities(ctx, query, 0)
}

// Others returns every identity except id.
func (d *Directory) Others(ctx context.Context, id string) ([]models.Identity, error) {
	all, err := d.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, u := range all {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out, nil
}

// PublicKey returns id's public key, or apperr.ErrKeysPending when the
// identity has no key material yet.
func (d *Directory) PublicKey(ctx context.Context, id string) (string, error) {
	u, err := d.store.GetIdentityByID(ctx, id)
	if err != nil {
		return "", err
	}
	if u.PublicKey == "" {
		return "", apperr.ErrKeysPending
	}
	return u.PublicKey, nil
}

// UpdateProfile changes the mutable profile fields. External id, email,
// credentials and keys are never touched.
func (d *Directory) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.Identity, error) {
	if update.DisplayName != nil && strings.TrimSpace(*update.DisplayName) == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, errors.New("display name cannot be empty"))
	}
	u, err := d.store.UpdateProfile(ctx, id, update)
	if err != nil {
		return nil, err
	}
	d.logger.Info("profile updated", "identity_id", id)
	return u, nil
}

// ChangePassword replaces the password after verifying the current one. The
// new hash gets a fresh salt.
func (d *Directory) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := d.store.GetIdentityByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := d.hasher.Verify(current, u.PasswordHash, u.PasswordSalt)
	if err != nil {
		d.logger.Error("password change failed", "reason", "derivation_error", "identity_id", id, "err", err)
		return apperr.Wrap(apperr.ErrPasswordDerivation, err)
	}
	if !ok {
		d.logger.Warn("password change failed", "reason", "wrong_password", "identity_id", id)
		return apperr.ErrInvalidCredentials
	}

	hash, salt, err := d.hasher.Hash(next, "")
	if err != nil {
		return apperr.Wrap(apperr.ErrPasswordDerivation, err)
	}
	if err := d.store.UpdatePassword(ctx, id, hash, salt); err != nil {
		return err
	}
	d.logger.Info("password changed", "identity_id", id)
	return nil
}

// EnsureKeys generates and stores a key pair for an identity that has none.
// Identities that already hold keys are returned unchanged.
func (d *Directory) EnsureKeys(ctx context.Context, id string) (*models.Identity, error) {
	u, err := d.store.GetIdentityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.HasKeys() {
		return u, nil
	}
	kp, err := d.keys.Generate()
	if err != nil {
		d.logger.Error("key generation retry failed", "identity_id", id, "err", err)
		return nil, apperr.Wrap(apperr.ErrKeyGeneration, err)
	}
	if err := d.store.UpdateKeys(ctx, id, kp.PublicKey, kp.PrivateKey); err != nil {
		return nil, err
	}
	u.PublicKey, u.PrivateKey = kp.PublicKey, kp.PrivateKey
	d.logger.Info("keys generated", "identity_id", id)
	return u, nil
}
