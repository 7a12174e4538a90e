package bus

import (
	"encoding/json"

	"github.com/vfrnav/vfrnav/pkg/protocol"
)

// Delivery is what subscribers receive for one inbound envelope.
type Delivery struct {
	ID protocol.MessageID
	// Value is the reduced dynamic payload (nil when absent).
	Value any
	// Raw is the payload exactly as received.
	Raw json.RawMessage
}

// Callback handles one delivery. Returning an error stops delivery of the
// same envelope to later subscribers.
type Callback func(Delivery) error

// Subscription is the handle returned by Subscribe. Unsubscribe compares
// handles by identity.
type Subscription struct {
	id protocol.MessageID
	cb Callback
}

// ID returns the message kind the subscription listens to.
func (s *Subscription) ID() protocol.MessageID { return s.id }
