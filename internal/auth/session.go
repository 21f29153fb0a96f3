package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	cookieName = "latchkey_session"
	sessionTTL = 365 * 24 * time.Hour
)

// Claims is the signed cookie payload. The user id is the only thing the
// server trusts from the browser.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies the login cookie. Sessions are stateless, so
// logging in persists nothing beyond the purchase and token tables.
type Sessions struct {
	signingKey []byte
}

func NewSessions(signingKey string) *Sessions {
	return &Sessions{signingKey: []byte(signingKey)}
}

// Issue sets the session cookie identifying the user.
func (s *Sessions) Issue(w http.ResponseWriter, r *http.Request, userID int64) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Parse returns the user id from a valid session cookie, or 0 when the
// request carries none.
func (s *Sessions) Parse(r *http.Request) int64 {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return 0
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(cookie.Value, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return 0
	}
	return claims.UserID
}
