package auth

// EventKind names an auth-state change.
type EventKind string

const (
	InitialSession EventKind = "INITIAL_SESSION"
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is one auth-state change notification. Session is nil for SignedOut.
type Event struct {
	Kind    EventKind `json:"event"`
	Session *Session  `json:"session,omitempty"`
}

// Notifier delivers auth events to the views open on a browser device.
type Notifier interface {
	NotifyAuth(deviceID string, ev Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) NotifyAuth(string, Event) {}
