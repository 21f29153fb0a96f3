package handler

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/store"
)

// LinkMailer delivers issued login links out-of-band.
type LinkMailer interface {
	Configured() bool
	SendLoginLink(toEmail, token string) error
}

type LoginHandler struct {
	pageRenderer
	users    *store.UserStore
	tokens   *store.LoginTokenStore
	sessions *auth.Sessions
	mailer   LinkMailer
	metrics  *metrics.Collector
}

func NewLoginHandler(
	us *store.UserStore,
	ts *store.LoginTokenStore,
	sessions *auth.Sessions,
	mailer LinkMailer,
	collector *metrics.Collector,
	tmpl map[string]*template.Template,
	baseURL string,
	logger *slog.Logger,
) *LoginHandler {
	return &LoginHandler{
		pageRenderer: pageRenderer{templates: tmpl, baseURL: baseURL, logger: logger},
		users:        us,
		tokens:       ts,
		sessions:     sessions,
		mailer:       mailer,
		metrics:      collector,
	}
}

// RequestLoginPage renders the magic-link request form.
func (h *LoginHandler) RequestLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "login.html", map[string]any{})
}

// RequestLogin issues a login link for an already-known email. Unknown
// addresses get neither a token nor an identity, but the response is the
// same either way so the form cannot be used to probe who has bought here.
func (h *LoginHandler) RequestLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, "login.html", map[string]any{"Error": "Invalid form data"})
		return
	}

	addr := strings.TrimSpace(r.FormValue("email"))
	if addr == "" {
		h.render(w, "login.html", map[string]any{"Error": "Email is required"})
		return
	}

	user, err := h.users.GetByEmail(addr)
	if err != nil {
		h.logger.Error("get user", "error", err)
	}
	if user != nil {
		token, err := h.tokens.Issue(addr)
		if err != nil {
			h.logger.Error("issue login token", "error", err)
		} else {
			h.metrics.RecordTokenIssued()
			if h.mailer.Configured() {
				if err := h.mailer.SendLoginLink(addr, token.Token); err != nil {
					h.logger.Error("send login link", "email", addr, "error", err)
				}
			} else {
				h.logger.Info("login link issued (email not configured)", "email", addr, "token", token.Token)
			}
		}
	}

	h.render(w, "check_email.html", map[string]any{"Email": addr})
}

// Redeem logs the buyer in with a single-use link. Every failure kind reads
// the same to the visitor; which kind it was only shows up in metrics.
func (h *LoginHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	user, err := h.tokens.Redeem(token)
	if err != nil {
		h.metrics.RecordRedemption(redemptionOutcome(err))
		if !errors.Is(err, store.ErrTokenNotFound) && !errors.Is(err, store.ErrTokenUsed) && !errors.Is(err, store.ErrTokenExpired) {
			h.logger.Error("redeem login token", "error", err)
		}
		h.render(w, "link_expired.html", map[string]any{})
		return
	}

	h.metrics.RecordRedemption("ok")
	if err := h.sessions.Issue(w, r, user.ID); err != nil {
		h.logger.Error("issue session cookie", "user_id", user.ID, "error", err)
		h.render(w, "link_expired.html", map[string]any{})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the session cookie.
func (h *LoginHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, store.ErrTokenUsed):
		return "used"
	case errors.Is(err, store.ErrTokenExpired):
		return "expired"
	default:
		return "error"
	}
}
