package streamsync

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// StreamConfig describes one subscription: the well-known stream endpoint,
// the topics appended as query parameters, and the short-lived stream token
// carried out-of-band as a cookie scoped to the endpoint path (the transports
// cannot rely on custom headers end to end).
type StreamConfig struct {
	Endpoint string
	Topics   []string
	Token    string
}

// Hooks receive transport lifecycle callbacks. OnError reports a broken but
// possibly recovering link; the transport keeps reconnecting on its own and
// only the owner's context cancel stops it.
type Hooks struct {
	OnOpen  func()
	OnFrame func(data []byte)
	OnError func(err error)
}

// Transport delivers text frames from the stream until ctx is canceled.
// Reconnection is owned entirely by the transport.
type Transport interface {
	Run(ctx context.Context, cfg StreamConfig, hooks Hooks)
}

// NewTransport picks a transport from the endpoint scheme: http/https selects
// server-sent events, ws/wss selects websocket.
func NewTransport(endpoint string, logger Logger) (Transport, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("invalid stream endpoint: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return NewSSETransport(nil, logger), nil
	case "ws", "wss":
		return NewWebSocketTransport(nil, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream endpoint scheme: %s", parsed.Scheme)
	}
}

func streamURL(cfg StreamConfig) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	q := parsed.Query()
	q.Del("topic")
	for _, topic := range cfg.Topics {
		q.Add("topic", topic)
	}
	parsed.RawQuery = q.Encode()
	return parsed, nil
}

type cookieScope struct {
	url  *url.URL
	path string
}

// parseCookieScope derives the cookie scope for the stream token: the cookie
// is pinned to the stream's well-known path, never the whole origin.
func parseCookieScope(scopeURL string) (cookieScope, error) {
	parsed, err := url.Parse(scopeURL)
	if err != nil {
		return cookieScope{}, fmt.Errorf("invalid cookie scope: %w", err)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return cookieScope{url: parsed, path: path}, nil
}

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
	reconnectJitter    = 0.2
)

// reconnectDelay returns the capped exponential backoff for the given
// consecutive failure count, with jitter so a fleet of clients does not
// reconnect in lockstep.
func reconnectDelay(failures int, rng *rand.Rand) time.Duration {
	delay := reconnectBaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			delay = reconnectMaxDelay
			break
		}
	}
	if rng == nil {
		return delay
	}
	factor := 1 + ((rng.Float64()*2)-1)*reconnectJitter
	jittered := time.Duration(float64(delay) * factor)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}
