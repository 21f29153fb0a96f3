package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/latchkey/internal/model"
)

const tokenTTL = 24 * time.Hour

var (
	ErrTokenNotFound = errors.New("login token not found")
	ErrTokenUsed     = errors.New("login token already used")
	ErrTokenExpired  = errors.New("login token expired")
)

type LoginTokenStore struct {
	db *sql.DB
}

func NewLoginTokenStore(db *sql.DB) *LoginTokenStore {
	return &LoginTokenStore{db: db}
}

func scanLoginToken(scanner interface{ Scan(...any) error }) (*model.LoginToken, error) {
	var lt model.LoginToken
	var usedAt sql.NullTime

	err := scanner.Scan(&lt.ID, &lt.Email, &lt.Token, &lt.ExpiresAt, &usedAt, &lt.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		lt.UsedAt = &usedAt.Time
	}
	return &lt, nil
}

const loginTokenCols = `id, email, token, expires_at, used_at, created_at`

// generateToken returns 32 bytes from crypto/rand as URL-safe base64.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a single-use login token for the email, valid for 24 hours.
func (s *LoginTokenStore) Issue(email string) (*model.LoginToken, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(tokenTTL)

	result, err := s.db.Exec(
		`INSERT INTO login_tokens (email, token, expires_at) VALUES (?, ?, ?)`,
		email, token, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert login token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+loginTokenCols+` FROM login_tokens WHERE id = ?`, id)
	return scanLoginToken(row)
}

// Redeem marks the token used and returns the user it authenticates. The
// used transition is a conditional update on used_at IS NULL, so a token
// authenticates at most once even under concurrent redemption; the loser
// gets ErrTokenUsed. Spent and expired tokens are kept for audit, never
// deleted.
func (s *LoginTokenStore) Redeem(token string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+loginTokenCols+` FROM login_tokens WHERE token = ?`, token)
	lt, err := scanLoginToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get login token: %w", err)
	}

	if lt.UsedAt != nil {
		return nil, ErrTokenUsed
	}
	if time.Now().UTC().After(lt.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	result, err := s.db.Exec(
		`UPDATE login_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), lt.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark login token used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrTokenUsed
	}

	row = s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, lt.Email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no user for token email %q", lt.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user for token: %w", err)
	}
	return u, nil
}

// GetByToken returns the token row regardless of state, or nil if absent.
func (s *LoginTokenStore) GetByToken(token string) (*model.LoginToken, error) {
	row := s.db.QueryRow(`SELECT `+loginTokenCols+` FROM login_tokens WHERE token = ?`, token)
	lt, err := scanLoginToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get login token: %w", err)
	}
	return lt, nil
}

// LatestByEmail returns the most recently issued token for an email, or nil.
func (s *LoginTokenStore) LatestByEmail(email string) (*model.LoginToken, error) {
	row := s.db.QueryRow(
		`SELECT `+loginTokenCols+` FROM login_tokens WHERE email = ? ORDER BY id DESC LIMIT 1`,
		email,
	)
	lt, err := scanLoginToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest login token: %w", err)
	}
	return lt, nil
}
