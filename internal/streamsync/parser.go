package streamsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

// inboundEventSchema validates the frame shape before decoding. Unknown
// properties pass through so the backend can grow the payload without
// breaking older clients.
const inboundEventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "createdAt"],
	"properties": {
		"id": {"type": "string"},
		"type": {"type": "string", "minLength": 1},
		"orderId": {"type": "string"},
		"restaurantId": {"type": "string"},
		"userId": {"type": "string"},
		"status": {"type": "string"},
		"message": {"type": "string"},
		"createdAt": {"type": ["string", "number"]}
	}
}`

type eventFrame struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	OrderID      string          `json:"orderId"`
	RestaurantID string          `json:"restaurantId"`
	UserID       string          `json:"userId"`
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	CreatedAt    json.RawMessage `json:"createdAt"`
}

// Parser decodes raw stream frames into typed events. A malformed frame never
// crashes the stream handler: it increments the failure counter and the
// caller falls back to an unread-count refresh.
type Parser struct {
	schema   *jsonschema.Schema
	failures atomic.Int64
}

func NewParser() (*Parser, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundEventSchema))
	if err != nil {
		return nil, fmt.Errorf("decoding event schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inbound_event.json", doc); err != nil {
		return nil, fmt.Errorf("registering event schema: %w", err)
	}
	schema, err := compiler.Compile("inbound_event.json")
	if err != nil {
		return nil, fmt.Errorf("compiling event schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

// Parse decodes one frame. On failure it records the error and returns it.
func (p *Parser) Parse(data []byte) (orderfeed.InboundEvent, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		p.failures.Add(1)
		return orderfeed.InboundEvent{}, fmt.Errorf("malformed frame: %w", err)
	}
	if err := p.schema.Validate(instance); err != nil {
		p.failures.Add(1)
		return orderfeed.InboundEvent{}, fmt.Errorf("invalid frame: %w", err)
	}
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		p.failures.Add(1)
		return orderfeed.InboundEvent{}, fmt.Errorf("decoding frame: %w", err)
	}
	createdAt, err := parseFrameTime(frame.CreatedAt)
	if err != nil {
		p.failures.Add(1)
		return orderfeed.InboundEvent{}, err
	}
	return orderfeed.InboundEvent{
		ID:           frame.ID,
		Type:         orderfeed.EventType(frame.Type),
		OrderID:      frame.OrderID,
		RestaurantID: frame.RestaurantID,
		UserID:       frame.UserID,
		Status:       frame.Status,
		Message:      frame.Message,
		CreatedAt:    createdAt,
	}, nil
}

// Failures reports how many frames failed to parse since startup.
func (p *Parser) Failures() int64 {
	return p.failures.Load()
}

// parseFrameTime accepts RFC 3339 strings and epoch milliseconds.
func parseFrameTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing createdAt")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		ts, parseErr := time.Parse(time.RFC3339, asString)
		if parseErr != nil {
			return time.Time{}, fmt.Errorf("invalid createdAt %q: %w", asString, parseErr)
		}
		return ts, nil
	}
	var asMillis int64
	if err := json.Unmarshal(raw, &asMillis); err == nil {
		return time.UnixMilli(asMillis).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported createdAt value %s", string(raw))
}
