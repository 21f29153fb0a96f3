// Package reconcile records completed payments exactly once. Two
// independent paths race to do it for every checkout: the buyer's browser
// returning from the provider, and the provider's signed webhook. Neither
// path locks anything; the unique index on the checkout session id decides
// the winner, and the loser treats the duplicate as success.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/latchkey/internal/catalog"
	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/model"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/store"
)

// ErrNotVerified is returned by HandleReturn when the checkout session
// cannot be confirmed as a paid purchase of the product being viewed. The
// caller proceeds unauthenticated; nothing has been written.
var ErrNotVerified = errors.New("checkout session not verified")

// Verifier confirms a checkout session against the payment provider.
type Verifier interface {
	VerifySession(ctx context.Context, sessionID string) (payment.Session, error)
}

// LinkMailer delivers the login link for an issued token.
type LinkMailer interface {
	Configured() bool
	SendLoginLink(toEmail, token string) error
}

type Reconciler struct {
	users     *store.UserStore
	purchases *store.PurchaseStore
	tokens    *store.LoginTokenStore
	verifier  Verifier
	mailer    LinkMailer
	metrics   *metrics.Collector
	logger    *slog.Logger
}

func New(
	users *store.UserStore,
	purchases *store.PurchaseStore,
	tokens *store.LoginTokenStore,
	verifier Verifier,
	mailer LinkMailer,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		users:     users,
		purchases: purchases,
		tokens:    tokens,
		verifier:  verifier,
		mailer:    mailer,
		metrics:   collector,
		logger:    logger,
	}
}

// HandleReturn is the browser's half of the race: the buyer landed back on
// a product page with a session_id in the URL. The session is verified with
// the provider before anything is trusted; then the payer's identity is
// resolved and the purchase recorded unless the webhook already did it.
// No login token is issued on this path, and the returned user is how the
// caller establishes the buyer's cookie session.
func (r *Reconciler) HandleReturn(ctx context.Context, sessionID, productID string) (*model.User, error) {
	v, err := r.verifier.VerifySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotVerified, err)
	}
	if !v.Paid {
		return nil, fmt.Errorf("%w: session %s not paid", ErrNotVerified, sessionID)
	}
	if v.ProductID != productID {
		return nil, fmt.Errorf("%w: session %s is for product %q, not %q", ErrNotVerified, sessionID, v.ProductID, productID)
	}
	if v.PayerEmail == "" {
		return nil, fmt.Errorf("%w: session %s has no payer email", ErrNotVerified, sessionID)
	}

	user, err := r.users.FindOrCreate(v.PayerEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	_, err = r.purchases.Record(user.ID, productID, sessionID, v.AmountTotal)
	switch {
	case errors.Is(err, store.ErrDuplicateSession):
		// the webhook won the race; the buyer still gets a session
		r.metrics.RecordDuplicateSession("return")
	case err != nil:
		return nil, fmt.Errorf("record purchase: %w", err)
	default:
		r.metrics.RecordPurchaseRecorded("return")
		r.logger.Info("purchase recorded",
			"path", "return",
			"session_id", sessionID,
			"product_id", productID,
			"user_id", user.ID,
		)
	}

	return user, nil
}

// HandleEvent is the asynchronous half of the race. Signature verification
// happened upstream in the payment client, so every event arriving here is
// authentic; kinds other than a completed checkout are acknowledged without
// action. A login token is issued only when this call performed the insert,
// which also makes redelivered events harmless.
func (r *Reconciler) HandleEvent(ctx context.Context, ev payment.Event) error {
	r.metrics.RecordWebhookEvent(string(ev.Kind))

	switch ev.Kind {
	case payment.EventCheckoutCompleted:
		return r.recordFromEvent(ev)
	default:
		return nil
	}
}

func (r *Reconciler) recordFromEvent(ev payment.Event) error {
	s := ev.Session
	if s.PayerEmail == "" {
		return fmt.Errorf("event %s: session %s has no payer email", ev.ID, s.ID)
	}
	// the ledger only holds catalog products; metadata is ours but may
	// predate a catalog change
	if _, ok := catalog.Find(s.ProductID); !ok {
		return fmt.Errorf("event %s: session %s has unknown product %q", ev.ID, s.ID, s.ProductID)
	}

	user, err := r.users.FindOrCreate(s.PayerEmail)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	_, err = r.purchases.Record(user.ID, s.ProductID, s.ID, s.AmountTotal)
	if errors.Is(err, store.ErrDuplicateSession) {
		// the return path or an earlier delivery got here first;
		// replays never issue a second token
		r.metrics.RecordDuplicateSession("webhook")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	r.metrics.RecordPurchaseRecorded("webhook")
	r.logger.Info("purchase recorded",
		"path", "webhook",
		"session_id", s.ID,
		"product_id", s.ProductID,
		"user_id", user.ID,
	)

	token, err := r.tokens.Issue(s.PayerEmail)
	if err != nil {
		return fmt.Errorf("issue login token: %w", err)
	}
	r.metrics.RecordTokenIssued()

	if !r.mailer.Configured() {
		r.logger.Info("login link issued (email not configured)",
			"email", s.PayerEmail,
			"token", token.Token,
		)
		return nil
	}
	if err := r.mailer.SendLoginLink(s.PayerEmail, token.Token); err != nil {
		// delivery is best effort; the purchase stands either way
		r.logger.Error("send login link", "email", s.PayerEmail, "error", err)
	}
	return nil
}
