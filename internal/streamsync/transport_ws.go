package streamsync

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketTransport subscribes over a websocket carrying the same JSON text
// frames as the SSE stream. Used where intermediaries buffer or time out
// long-lived event-stream responses.
type WebSocketTransport struct {
	httpClient *http.Client
	logger     Logger
}

func NewWebSocketTransport(httpClient *http.Client, logger Logger) *WebSocketTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WebSocketTransport{httpClient: httpClient, logger: logger}
}

func (t *WebSocketTransport) Run(ctx context.Context, cfg StreamConfig, hooks Hooks) {
	target, err := streamURL(cfg)
	if err != nil {
		emitError(hooks, err)
		return
	}

	header := http.Header{}
	header.Set("Cookie", streamTokenCookie+"="+cfg.Token)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		opened, err := t.consume(ctx, target.String(), header, hooks)
		if ctx.Err() != nil {
			return
		}
		if opened {
			failures = 0
		}
		if err != nil {
			emitError(hooks, err)
		}
		failures++
		if waitErr := waitWithContext(ctx, reconnectDelay(failures, rng)); waitErr != nil {
			return
		}
	}
}

func (t *WebSocketTransport) consume(ctx context.Context, target string, header http.Header, hooks Hooks) (bool, error) {
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()
	conn.SetReadLimit(1 << 20)
	if hooks.OnOpen != nil {
		hooks.OnOpen()
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		if hooks.OnFrame != nil {
			hooks.OnFrame(data)
		}
	}
}
