package streamsync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const streamTokenCookie = "stream_token"

// SSETransport subscribes over server-sent events. It sets the stream token
// as a cookie scoped to the endpoint path before connecting, tracks the last
// delivered event id, and resumes with Last-Event-ID on reconnect.
type SSETransport struct {
	httpClient *http.Client
	logger     Logger
}

func NewSSETransport(httpClient *http.Client, logger Logger) *SSETransport {
	if httpClient == nil {
		// No overall timeout: the response body is a long-lived stream.
		httpClient = &http.Client{}
	}
	return &SSETransport{httpClient: httpClient, logger: logger}
}

func (t *SSETransport) Run(ctx context.Context, cfg StreamConfig, hooks Hooks) {
	target, err := streamURL(cfg)
	if err != nil {
		emitError(hooks, fmt.Errorf("invalid stream url: %w", err))
		return
	}
	if err := t.setTokenCookie(target.Scheme+"://"+target.Host+target.Path, cfg.Token); err != nil {
		emitError(hooks, err)
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0
	lastEventID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		opened := false
		attempt := hooks
		attempt.OnOpen = func() {
			opened = true
			if hooks.OnOpen != nil {
				hooks.OnOpen()
			}
		}
		id, err := t.consume(ctx, target.String(), lastEventID, attempt)
		if id != "" {
			lastEventID = id
		}
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

// consume runs one connection attempt, returning the last event id seen.
func (t *SSETransport) consume(ctx context.Context, target, lastEventID string, hooks Hooks) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    "stream subscription rejected",
		}
	}
	if hooks.OnOpen != nil {
		hooks.OnOpen()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				if hooks.OnFrame != nil {
					hooks.OnFrame([]byte(payload))
				}
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			lastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, ":"):
			// Comment/keep-alive.
		default:
			// "event:" names and unknown fields carry no payload we use.
		}
	}
	err = scanner.Err()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		err = nil
	}
	return lastEventID, err
}

func (t *SSETransport) setTokenCookie(scopeURL, token string) error {
	if t.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return fmt.Errorf("creating cookie jar: %w", err)
		}
		t.httpClient.Jar = jar
	}
	scope, err := parseCookieScope(scopeURL)
	if err != nil {
		return err
	}
	t.httpClient.Jar.SetCookies(scope.url, []*http.Cookie{{
		Name:  streamTokenCookie,
		Value: token,
		Path:  scope.path,
	}})
	return nil
}

func emitError(hooks Hooks, err error) {
	if hooks.OnError != nil && err != nil {
		hooks.OnError(err)
	}
}
