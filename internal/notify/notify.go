package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ussu1112/back-officener/internal/audit"
)

var (
	// ErrInvalidToken is returned for blank device tokens or user ids.
	ErrInvalidToken = errors.New("notify: device token is required")
	// ErrNotFound is returned when a user has no registered device.
	ErrNotFound = errors.New("notify: no device token registered")
)

const maxTokenLength = 4096

// TokenStore persists one push device token per user.
type TokenStore interface {
	Upsert(ctx context.Context, userID int64, token string) error
	Find(ctx context.Context, userID int64) (string, error)
}

// Registrar records FCM device tokens for authenticated users. Delivery is
// handled elsewhere.
type Registrar struct {
	store TokenStore
}

// NewRegistrar returns a registrar over store.
func NewRegistrar(store TokenStore) *Registrar {
	return &Registrar{store: store}
}

// Register stores token as the user's current device, replacing any previous
// one.
func (r *Registrar) Register(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	if userID == 0 || token == "" || len(token) > maxTokenLength {
		return ErrInvalidToken
	}
	if err := r.store.Upsert(ctx, userID, token); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "notify.register", map[string]any{"user_id": userID})
	return nil
}

// Token returns the user's registered device token.
func (r *Registrar) Token(ctx context.Context, userID int64) (string, error) {
	return r.store.Find(ctx, userID)
}

// PGTokenStore keeps tokens in the fcm_tokens table.
type PGTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGTokenStore wraps db.
func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db, now: time.Now}
}

func (s *PGTokenStore) Upsert(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into fcm_tokens(user_id, token, updated_at) values($1,$2,$3)
		 on conflict (user_id) do update set token=excluded.token, updated_at=excluded.updated_at`,
		userID, token, s.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert fcm token: %w", err)
	}
	return nil
}

func (s *PGTokenStore) Find(ctx context.Context, userID int64) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `select token from fcm_tokens where user_id=$1`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load fcm token: %w", err)
	}
	return token, nil
}
