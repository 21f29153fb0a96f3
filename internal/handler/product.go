package handler

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/catalog"
	"github.com/dukerupert/latchkey/internal/reconcile"
	"github.com/dukerupert/latchkey/internal/store"
)

type ProductHandler struct {
	pageRenderer
	reconciler *reconcile.Reconciler
	purchases  *store.PurchaseStore
	sessions   *auth.Sessions
}

func NewProductHandler(
	rec *reconcile.Reconciler,
	ps *store.PurchaseStore,
	sessions *auth.Sessions,
	tmpl map[string]*template.Template,
	baseURL string,
	logger *slog.Logger,
) *ProductHandler {
	return &ProductHandler{
		pageRenderer: pageRenderer{templates: tmpl, baseURL: baseURL, logger: logger},
		reconciler:   rec,
		purchases:    ps,
		sessions:     sessions,
	}
}

// View shows the product's content to owners. When the buyer lands here from
// the provider's redirect with a session_id and no session of their own, the
// return path of reconciliation runs first: verify the payment, resolve the
// identity, record the purchase if the webhook hasn't, and log the buyer in.
// Anyone who ends up without ownership is bounced to the storefront.
func (h *ProductHandler) View(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	product, ok := catalog.Find(pid)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	uid := auth.UserID(r.Context())

	if sessionID := r.URL.Query().Get("session_id"); uid == 0 && sessionID != "" {
		user, err := h.reconciler.HandleReturn(r.Context(), sessionID, pid)
		switch {
		case errors.Is(err, reconcile.ErrNotVerified):
			// not a paid session for this product; show the public view
			h.logger.Info("checkout return not verified", "session_id", sessionID, "error", err)
		case err != nil:
			h.logger.Error("checkout return reconciliation", "session_id", sessionID, "error", err)
		default:
			if err := h.sessions.Issue(w, r, user.ID); err != nil {
				h.logger.Error("issue session cookie", "user_id", user.ID, "error", err)
			}
			uid = user.ID
		}
	}

	if uid == 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	owns, err := h.purchases.HasProduct(uid, pid)
	if err != nil {
		h.logger.Error("check ownership", "user_id", uid, "product_id", pid, "error", err)
		http.Error(w, "failed to load data", http.StatusInternalServerError)
		return
	}
	if !owns {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	h.render(w, "product.html", map[string]any{
		"Product": product,
	})
}
