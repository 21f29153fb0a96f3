package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/latchkey/internal/auth"
	"github.com/dukerupert/latchkey/internal/catalog"
	"github.com/dukerupert/latchkey/internal/store"
)

type StorefrontHandler struct {
	pageRenderer
	purchases *store.PurchaseStore
}

func NewStorefrontHandler(
	ps *store.PurchaseStore,
	tmpl map[string]*template.Template,
	baseURL string,
	logger *slog.Logger,
) *StorefrontHandler {
	return &StorefrontHandler{
		pageRenderer: pageRenderer{templates: tmpl, baseURL: baseURL, logger: logger},
		purchases:    ps,
	}
}

// productCard is a catalog entry plus whether the current visitor owns it.
type productCard struct {
	catalog.Product
	Owned bool
}

// Home renders the storefront: every catalog product, marked owned for a
// logged-in buyer so the card links to the content instead of checkout.
func (h *StorefrontHandler) Home(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())

	owned := map[string]bool{}
	if uid != 0 {
		purchases, err := h.purchases.ListByUser(uid)
		if err != nil {
			h.logger.Error("list purchases", "user_id", uid, "error", err)
			http.Error(w, "failed to load data", http.StatusInternalServerError)
			return
		}
		for _, p := range purchases {
			owned[p.ProductID] = true
		}
	}

	cards := make([]productCard, 0, len(catalog.All()))
	for _, p := range catalog.All() {
		cards = append(cards, productCard{Product: p, Owned: owned[p.ID]})
	}

	h.render(w, "index.html", map[string]any{
		"Products": cards,
		"LoggedIn": uid != 0,
	})
}
