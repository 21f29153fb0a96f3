package handler

import (
	"context"
	"database/sql"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/database"
	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/reconcile"
	"github.com/dukerupert/latchkey/internal/store"
)

const testBaseURL = "http://localhost:8080"

type testEnv struct {
	db        *sql.DB
	users     *store.UserStore
	purchases *store.PurchaseStore
	tokens    *store.LoginTokenStore
	sessions  *auth.Sessions
	metrics   *metrics.Collector
	templates map[string]*template.Template
	logger    *slog.Logger
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return testEnv{
		db:        db,
		users:     store.NewUserStore(db),
		purchases: store.NewPurchaseStore(db),
		tokens:    store.NewLoginTokenStore(db),
		sessions:  auth.NewSessions("test-secret"),
		metrics:   metrics.NewCollector(prometheus.NewRegistry()),
		templates: loadTemplates(t),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// loadTemplates parses the real page templates the way the server does.
func loadTemplates(t *testing.T) map[string]*template.Template {
	t.Helper()
	dir := filepath.Join("..", "..", "web", "templates")
	layout := filepath.Join(dir, "layout.html")
	pages := []string{"index.html", "product.html", "login.html", "check_email.html", "link_expired.html"}
	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.ParseFiles(layout, filepath.Join(dir, page))
		if err != nil {
			t.Fatalf("parse template %s: %v", page, err)
		}
		templates[page] = tmpl
	}
	return templates
}

func (env testEnv) reconciler(v reconcile.Verifier, m reconcile.LinkMailer) *reconcile.Reconciler {
	return reconcile.New(env.users, env.purchases, env.tokens, v, m, env.metrics, env.logger)
}

// asUser marks the request as carrying a valid session for the user, the
// way the session middleware would.
func asUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(auth.WithUserID(r.Context(), userID))
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "latchkey_session" && c.Value != "" {
			return c
		}
	}
	return nil
}

func bodyContains(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("body does not contain %q:\n%s", want, rec.Body.String())
	}
}

type fakeVerifier struct {
	session payment.Session
	err     error
	calls   int
}

func (f *fakeVerifier) VerifySession(_ context.Context, _ string) (payment.Session, error) {
	f.calls++
	if f.err != nil {
		return payment.Session{}, f.err
	}
	return f.session, nil
}

type fakeMailer struct {
	configured bool
	sent       []string
}

func (f *fakeMailer) Configured() bool { return f.configured }

func (f *fakeMailer) SendLoginLink(toEmail, _ string) error {
	f.sent = append(f.sent, toEmail)
	return nil
}
