package payment

// Session is the provider-independent view of a checkout session, reduced
// to the fields reconciliation needs.
type Session struct {
	ID          string
	Paid        bool
	PayerEmail  string
	AmountTotal int64
	ProductID   string
}

// EventKind is the closed set of webhook notification variants the service
// distinguishes. Anything that is not a completed checkout is EventOther
// and is acknowledged without action.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventOther             EventKind = "other"
)

// Event is a signature-verified provider notification.
type Event struct {
	ID      string
	Kind    EventKind
	Session Session
}
