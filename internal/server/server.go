package server

import (
	"database/sql"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/email"
	"github.com/dukerupert/latchkey/internal/handler"
	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/middleware"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/reconcile"
	"github.com/dukerupert/latchkey/internal/store"
)

type Server struct {
	db            *sql.DB
	users         *store.UserStore
	purchases     *store.PurchaseStore
	tokens        *store.LoginTokenStore
	sessions      *auth.Sessions
	paymentClient *payment.Client
	reconciler    *reconcile.Reconciler
	storefrontH   *handler.StorefrontHandler
	checkoutH     *handler.CheckoutHandler
	productH      *handler.ProductHandler
	webhookH      *handler.WebhookHandler
	loginH        *handler.LoginHandler
	rateLimiter   *middleware.RateLimiter
	registry      *prometheus.Registry
	logger        *slog.Logger
}

type Config struct {
	Stripe        payment.Config
	BaseURL       string
	SessionSecret string
	EmailClient   *email.Client
	TemplatesDir  string
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	users := store.NewUserStore(db)
	purchases := store.NewPurchaseStore(db)
	tokens := store.NewLoginTokenStore(db)
	sessions := auth.NewSessions(cfg.SessionSecret)
	paymentClient := payment.NewClient(cfg.Stripe)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	reconciler := reconcile.New(
		users, purchases, tokens,
		paymentClient, cfg.EmailClient,
		collector, logger.With("component", "reconcile"),
	)

	// Each page gets its own template set so their "content" blocks
	// cannot collide.
	tmplDir := cfg.TemplatesDir
	if tmplDir == "" {
		tmplDir = "web/templates"
	}
	layoutFile := tmplDir + "/layout.html"
	templates := make(map[string]*template.Template)
	pages := []string{"index.html", "product.html", "login.html", "check_email.html", "link_expired.html"}
	for _, page := range pages {
		templates[page] = template.Must(template.ParseFiles(layoutFile, tmplDir+"/"+page))
	}

	return &Server{
		db:            db,
		users:         users,
		purchases:     purchases,
		tokens:        tokens,
		sessions:      sessions,
		paymentClient: paymentClient,
		reconciler:    reconciler,
		storefrontH:   handler.NewStorefrontHandler(purchases, templates, cfg.BaseURL, logger.With("component", "storefront")),
		checkoutH:     handler.NewCheckoutHandler(paymentClient, users, collector, logger.With("component", "checkout")),
		productH:      handler.NewProductHandler(reconciler, purchases, sessions, templates, cfg.BaseURL, logger.With("component", "product")),
		webhookH:      handler.NewWebhookHandler(paymentClient, reconciler, collector, logger.With("component", "webhook")),
		loginH:        handler.NewLoginHandler(users, tokens, sessions, cfg.EmailClient, collector, templates, cfg.BaseURL, logger.With("component", "login")),
		rateLimiter:   middleware.NewRateLimiter(),
		registry:      registry,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.storefrontH.Home)
	mux.HandleFunc("GET /view/{pid}", s.productH.View)

	// Checkout and webhook need provider credentials
	if s.paymentClient.Configured() {
		mux.HandleFunc("GET /buy/{pid}", s.rateLimitedHandler(s.checkoutH.Buy))
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	mux.HandleFunc("GET /request-login", s.loginH.RequestLoginPage)
	mux.HandleFunc("POST /request-login", s.rateLimitedHandler(s.loginH.RequestLogin))
	mux.HandleFunc("GET /login/{token}", s.loginH.Redeem)
	mux.HandleFunc("POST /logout", s.loginH.Logout)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("web/static"))))
	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	// Resolve the cookie session first so the request logger sees the user.
	h := middleware.RequestLogger(s.logger.With("component", "http"))(mux)
	return middleware.WithUser(s.sessions)(h)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
