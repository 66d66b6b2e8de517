package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownEvent indicates an inbound frame named an event the server does
// not handle.
var ErrUnknownEvent = errors.New("unknown event")

// Codec validates every inbound payload against the fixed schema for its
// event name before any business logic runs. Malformed frames never reach
// the handlers.
type Codec struct {
	validate *validator.Validate
}

// NewCodec builds a codec with the standard struct-tag rules.
func NewCodec() *Codec {
	return &Codec{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Decode parses and validates the payload for the given event name. The
// returned value is one of the typed C→S payload structs; the error is
// suitable for echoing to the client verbatim.
func (c *Codec) Decode(event string, data json.RawMessage) (any, error) {
	var payload any
	switch event {
	case EventSubscribe, EventUnsubscribe:
		payload = &SubscribePayload{}
	case EventMessageSend:
		payload = &MessageSendPayload{}
	case EventTypingStart, EventTypingStop:
		payload = &TypingPayload{}
	case EventHeartbeat:
		payload = &HeartbeatPayload{}
	case EventReceiptRead:
		payload = &ReceiptReadPayload{}
	default:
		return nil, ErrUnknownEvent
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%s: missing payload", event)
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("%s: malformed payload", event)
	}
	if err := c.validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return nil, fmt.Errorf("%s: field %q failed %q validation", event, f.Field(), f.Tag())
		}
		return nil, fmt.Errorf("%s: invalid payload", event)
	}
	return payload, nil
}
