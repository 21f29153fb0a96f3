package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/catalog"
	"github.com/dukerupert/latchkey/internal/metrics"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/store"
)

type CheckoutHandler struct {
	payments *payment.Client
	users    *store.UserStore
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewCheckoutHandler(
	pc *payment.Client,
	us *store.UserStore,
	collector *metrics.Collector,
	logger *slog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		payments: pc,
		users:    us,
		metrics:  collector,
		logger:   logger,
	}
}

// Buy creates a hosted checkout session for the product and sends the buyer
// to it. No account is needed: identity is established later, when the
// payment is reconciled. A logged-in buyer's email prefills the checkout.
func (h *CheckoutHandler) Buy(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	product, ok := catalog.Find(pid)
	if !ok {
		http.NotFound(w, r)
		return
	}

	email := ""
	if uid := auth.UserID(r.Context()); uid != 0 {
		user, err := h.users.GetByID(uid)
		if err != nil {
			h.logger.Error("get user for checkout", "user_id", uid, "error", err)
		} else if user != nil {
			email = user.Email
		}
	}

	url, err := h.payments.CreateCheckout(r.Context(), payment.CheckoutParams{
		ProductID:     product.ID,
		ProductName:   product.Name,
		Description:   product.Description,
		UnitAmount:    product.PriceCents,
		CustomerEmail: email,
	})
	if err != nil {
		h.logger.Error("create checkout session", "product_id", pid, "error", err)
		http.Error(w, "failed to start checkout", http.StatusBadGateway)
		return
	}

	h.metrics.RecordCheckoutCreated()
	http.Redirect(w, r, url, http.StatusSeeOther)
}
