package push

import "context"

// Message is one ephemeral unit of delivery work. Data carries the payload
// the client uses to deep-link (e.g. {"type":"news","url":…}).
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Ticket is the send-time acknowledgment for one message.
type Ticket struct {
	ID     string
	Status string
	Detail string
}

// Receipt is the provider-side delivery acknowledgment for one ticket.
type Receipt struct {
	Status string
	Detail string
}

const (
	// StatusOK marks a successful ticket or receipt.
	StatusOK = "ok"
	// StatusError marks a failed ticket or receipt.
	StatusError = "error"
	// DetailDeviceNotRegistered is the provider's permanent-failure reason;
	// the corresponding token must be deactivated.
	DetailDeviceNotRegistered = "DeviceNotRegistered"
)

// Gateway abstracts the push delivery provider.
type Gateway interface {
	ValidateToken(token string) bool
	Send(ctx context.Context, messages []Message) ([]Ticket, error)
	Receipts(ctx context.Context, ids []string) (map[string]Receipt, error)
}

// TokenDeactivator marks a device token as permanently invalid.
type TokenDeactivator interface {
	DeactivateToken(ctx context.Context, token string) error
}
