package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// metadataProductKey carries the catalog product id through Stripe and back
// on both the session object and its webhook events.
const metadataProductKey = "product_id"

const verifyTimeout = 10 * time.Second

type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Currency      string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// Configured reports whether a secret key is present. Without one the
// checkout and webhook routes are disabled.
func (c *Client) Configured() bool {
	return c.cfg.SecretKey != ""
}

// CheckoutParams describe a single-product hosted checkout.
type CheckoutParams struct {
	ProductID     string
	ProductName   string
	Description   string
	UnitAmount    int64
	CustomerEmail string
}

// CreateCheckout creates a hosted checkout session for one product and
// returns the URL to redirect the buyer to. The success URL carries the
// literal {CHECKOUT_SESSION_ID} placeholder, which Stripe substitutes on
// redirect; that session id is how the return path finds the payment again.
func (c *Client) CreateCheckout(ctx context.Context, p CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.cfg.Currency),
					UnitAmount: stripe.Int64(p.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(p.ProductName),
						Description: stripe.String(p.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(fmt.Sprintf("%s/view/%s?session_id={CHECKOUT_SESSION_ID}", c.cfg.BaseURL, p.ProductID)),
		CancelURL:  stripe.String(c.cfg.BaseURL + "/"),
	}
	params.AddMetadata(metadataProductKey, p.ProductID)
	params.SetIdempotencyKey(uuid.NewString())
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifySession retrieves the checkout session from Stripe and reduces it
// to the reconciliation view. The lookup runs under its own timeout so a
// slow provider cannot stall the return path.
func (c *Client) VerifySession(ctx context.Context, sessionID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	sess, err := session.Get(sessionID, params)
	if err != nil {
		return Session{}, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return sessionFromStripe(sess), nil
}

// ConstructEvent verifies the webhook signature and maps the payload onto
// the closed Event variant. A failed signature check is the only error.
func (c *Client) ConstructEvent(payload []byte, sigHeader string) (Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("verify webhook signature: %w", err)
	}
	return eventFromStripe(stripeEvent), nil
}

func sessionFromStripe(sess *stripe.CheckoutSession) Session {
	s := Session{
		ID:          sess.ID,
		Paid:        sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: sess.AmountTotal,
	}
	if sess.CustomerDetails != nil {
		s.PayerEmail = sess.CustomerDetails.Email
	}
	if sess.Metadata != nil {
		s.ProductID = sess.Metadata[metadataProductKey]
	}
	return s
}

func eventFromStripe(ev stripe.Event) Event {
	out := Event{ID: ev.ID, Kind: EventOther}
	if ev.Type != "checkout.session.completed" {
		return out
	}
	out.Kind = EventCheckoutCompleted

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		// zero session; reconciliation rejects it with the event id
		return out
	}
	out.Session = sessionFromStripe(&sess)
	return out
}
