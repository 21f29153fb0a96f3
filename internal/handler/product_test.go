package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/latchkey/internal/payment"
)

func newProductHandler(env testEnv, v *fakeVerifier, m *fakeMailer) *ProductHandler {
	rec := env.reconciler(v, m)
	return NewProductHandler(rec, env.purchases, env.sessions, env.templates, testBaseURL, env.logger)
}

func viewRequest(pid, sessionID string) *http.Request {
	target := "/view/" + pid
	if sessionID != "" {
		target += "?session_id=" + sessionID
	}
	r := httptest.NewRequest("GET", target, nil)
	r.SetPathValue("pid", pid)
	return r
}

func TestViewReturnPathLogsBuyerIn(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{session: payment.Session{
		ID: "cs_1", Paid: true, PayerEmail: "buyer@example.com", AmountTotal: 1999, ProductID: "p1",
	}}
	h := newProductHandler(env, v, &fakeMailer{})

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p1", "cs_1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	bodyContains(t, rec, "Premium content")

	if sessionCookie(t, rec) == nil {
		t.Error("expected a session cookie to be set")
	}

	user, err := env.users.GetByEmail("buyer@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user == nil {
		t.Fatal("expected identity to be created")
	}
	exists, err := env.purchases.Exists("cs_1")
	if err != nil {
		t.Fatalf("purchase exists: %v", err)
	}
	if !exists {
		t.Error("expected purchase to be recorded")
	}
}

func TestViewReturnPathAfterWebhook(t *testing.T) {
	env := setupEnv(t)
	s := payment.Session{ID: "cs_2", Paid: true, PayerEmail: "buyer@example.com", AmountTotal: 1999, ProductID: "p1"}
	v := &fakeVerifier{session: s}
	m := &fakeMailer{configured: true}
	h := newProductHandler(env, v, m)

	// webhook already recorded the purchase
	rc := env.reconciler(v, m)
	if err := rc.HandleEvent(context.Background(), payment.Event{ID: "evt_1", Kind: payment.EventCheckoutCompleted, Session: s}); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p1", "cs_2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sessionCookie(t, rec) == nil {
		t.Error("expected the buyer to be logged in despite losing the race")
	}

	user, err := env.users.GetByEmail("buyer@example.com")
	if err != nil || user == nil {
		t.Fatalf("get user: %v, %v", user, err)
	}
	purchases, err := env.purchases.ListByUser(user.ID)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 {
		t.Errorf("purchase count = %d, want 1", len(purchases))
	}
}

func TestViewReturnPathProductMismatch(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{session: payment.Session{
		ID: "cs_3", Paid: true, PayerEmail: "buyer@example.com", AmountTotal: 2999, ProductID: "p2",
	}}
	h := newProductHandler(env, v, &fakeMailer{})

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p1", "cs_3"))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 redirect", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("location = %q, want /", loc)
	}

	user, err := env.users.GetByEmail("buyer@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user != nil {
		t.Error("expected no identity for mismatched product")
	}
	exists, err := env.purchases.Exists("cs_3")
	if err != nil {
		t.Fatalf("purchase exists: %v", err)
	}
	if exists {
		t.Error("expected no purchase for mismatched product")
	}
}

func TestViewReturnPathVerifierFailure(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{err: errors.New("provider timeout")}
	h := newProductHandler(env, v, &fakeMailer{})

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p1", "cs_4"))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 redirect", rec.Code)
	}
	if sessionCookie(t, rec) != nil {
		t.Error("expected no session on verification failure")
	}
}

func TestViewOwnerSeesContent(t *testing.T) {
	env := setupEnv(t)
	h := newProductHandler(env, &fakeVerifier{}, &fakeMailer{})

	user, err := env.users.FindOrCreate("owner@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.purchases.Record(user.ID, "p1", "cs_5", 1999); err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	rec := httptest.NewRecorder()
	h.View(rec, asUser(viewRequest("p1", ""), user.ID))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	bodyContains(t, rec, "Premium content")
}

func TestViewNonOwnerBounces(t *testing.T) {
	env := setupEnv(t)
	h := newProductHandler(env, &fakeVerifier{}, &fakeMailer{})

	user, err := env.users.FindOrCreate("window-shopper@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	rec := httptest.NewRecorder()
	h.View(rec, asUser(viewRequest("p1", ""), user.ID))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 redirect", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("location = %q, want /", loc)
	}
}

func TestViewAnonymousWithoutSessionIDBounces(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{}
	h := newProductHandler(env, v, &fakeMailer{})

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p1", ""))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 redirect", rec.Code)
	}
	if v.calls != 0 {
		t.Error("expected no verification without a session_id")
	}
}

func TestViewUnknownProductBounces(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{}
	h := newProductHandler(env, v, &fakeMailer{})

	rec := httptest.NewRecorder()
	h.View(rec, viewRequest("p99", "cs_6"))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 redirect", rec.Code)
	}
	if v.calls != 0 {
		t.Error("expected no verification for an unknown product")
	}
}

func TestViewLoggedInIgnoresSessionID(t *testing.T) {
	env := setupEnv(t)
	v := &fakeVerifier{session: payment.Session{
		ID: "cs_7", Paid: true, PayerEmail: "buyer@example.com", AmountTotal: 1999, ProductID: "p1",
	}}
	h := newProductHandler(env, v, &fakeMailer{})

	user, err := env.users.FindOrCreate("owner@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.purchases.Record(user.ID, "p1", "cs_8", 1999); err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	rec := httptest.NewRecorder()
	h.View(rec, asUser(viewRequest("p1", "cs_7"), user.ID))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// reconciliation only runs for anonymous visitors
	if v.calls != 0 {
		t.Error("expected no verification for a logged-in visitor")
	}
}
