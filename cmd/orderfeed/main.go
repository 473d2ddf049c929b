package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
	"github.com/forkpoint/orderfeed/internal/session"
	"github.com/forkpoint/orderfeed/internal/streamsync"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("ORDERFEED_BASE_URL", "http://127.0.0.1:8080"), "backend base URL")
	streamURL := flag.String("stream-url", strings.TrimSpace(os.Getenv("ORDERFEED_STREAM_URL")), "stream endpoint URL (defaults to <base-url>/v1/stream)")
	token := flag.String("token", strings.TrimSpace(os.Getenv("ORDERFEED_TOKEN")), "API bearer token (falls back to the system keyring)")
	sessionFile := flag.String("session-file", strings.TrimSpace(os.Getenv("ORDERFEED_SESSION_FILE")), "JSON session file to watch for identity changes")
	stateDSN := flag.String("state-dsn", strings.TrimSpace(os.Getenv("ORDERFEED_STATE_DSN")), "inbox mirror DSN (memory://, file://, sqlite://, postgres://)")
	statusFilter := flag.String("status-filter", strings.TrimSpace(os.Getenv("ORDERFEED_STATUS_FILTER")), "restrict the order list to one status")
	timeout := flag.Duration("timeout", durationEnv("ORDERFEED_TIMEOUT", 15*time.Second), "per-request API timeout")
	storeToken := flag.Bool("store-token", false, "store the provided token in the system keyring and exit")
	forgetToken := flag.Bool("forget-token", false, "remove the stored token from the system keyring and exit")
	flag.Parse()

	if *forgetToken {
		if err := session.DeleteCredential(session.APITokenKey); err != nil {
			log.Fatalf("failed to remove stored token: %v", err)
		}
		log.Printf("stored token removed")
		return
	}
	if *storeToken {
		if strings.TrimSpace(*token) == "" {
			log.Fatalf("store-token requires a token (--token or ORDERFEED_TOKEN)")
		}
		if err := session.StoreCredential(session.APITokenKey, strings.TrimSpace(*token)); err != nil {
			log.Fatalf("failed to store token: %v", err)
		}
		log.Printf("token stored in the system keyring")
		return
	}

	if strings.TrimSpace(*token) == "" {
		stored, err := session.Credential(session.APITokenKey)
		if err != nil {
			log.Fatalf("token is required (--token, ORDERFEED_TOKEN, or the system keyring): %v", err)
		}
		*token = stored
	}
	if strings.TrimSpace(*sessionFile) == "" {
		log.Fatalf("session-file is required (--session-file or ORDERFEED_SESSION_FILE)")
	}
	if strings.TrimSpace(*streamURL) == "" {
		*streamURL = strings.TrimRight(*baseURL, "/") + "/v1/stream"
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	logger := log.Default()
	client := streamsync.NewClient(*baseURL, *token, &http.Client{Timeout: *timeout})

	backend, err := orderfeed.BuildStateBackendFromDSN(*stateDSN)
	if err != nil {
		log.Fatalf("invalid state DSN: %v", err)
	}
	defer func() {
		if err := orderfeed.CloseStateBackend(backend); err != nil {
			log.Printf("closing state backend: %v", err)
		}
	}()

	inbox := orderfeed.NewInbox(client, orderfeed.InboxOptions{Backend: backend, Logger: logger})
	toasts := orderfeed.NewToastStack(0)
	toasts.Sink = func(t orderfeed.Toast) {
		log.Printf("[%s] %s", t.Level, t.Message)
	}
	effects := &orderfeed.EngineEffects{Toasts: toasts, Inbox: inbox}

	parser, err := streamsync.NewParser()
	if err != nil {
		log.Fatalf("failed to initialize event parser: %v", err)
	}
	dispatcher := orderfeed.NewDispatcher()
	manager := streamsync.NewManager(streamsync.ManagerOptions{
		Endpoint: *streamURL,
		Tokens:   streamsync.NewTokenProvider(client),
		Parser:   parser,
		Sink:     dispatcher,
		OnParseFailure: func(ctx context.Context) {
			inbox.RefreshInbox(ctx)
		},
		Logger: logger,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New()
	sess.OnChange(func(identity orderfeed.Identity) {
		// Views from the previous identity must not survive the switch,
		// nor their dedup ledgers.
		dispatcher.Reset()
		if !identity.Present() {
			log.Printf("signed out; stream torn down")
			manager.Teardown()
			return
		}
		log.Printf("identity changed to %s", identity.Key())
		listFetch := func(ctx context.Context) ([]orderfeed.Order, error) {
			return client.ListOrders(ctx, *statusFilter)
		}
		view := orderfeed.NewOrderListView(identity, listFetch, orderfeed.OrderListViewOptions{
			StatusFilter: *statusFilter,
		})
		dispatcher.Mount(orderfeed.NewReconciler(view, orderfeed.ReconcilerOptions{
			Effects: effects,
			Logger:  logger,
		}))
		refreshCtx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := view.RefreshAll(refreshCtx); err != nil {
			log.Printf("initial order list fetch failed: %v", err)
		}
		inbox.RefreshInbox(refreshCtx)
		manager.SetIdentity(identity)
	})

	go manager.Run(rootCtx)

	source := session.NewFileSource(*sessionFile, sess, logger)
	if err := source.Watch(rootCtx); err != nil && rootCtx.Err() == nil {
		log.Fatalf("session watch failed: %v", err)
	}
	log.Printf("orderfeed stopping: %v", rootCtx.Err())
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
