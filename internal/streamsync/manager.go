package streamsync

import (
	"context"
	"sync"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

// ConnState is the observable stream connection state.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// EventSink receives parsed events from the stream. *orderfeed.Dispatcher
// implements it.
type EventSink interface {
	Dispatch(ctx context.Context, ev orderfeed.InboundEvent)
}

// ManagerOptions configure a stream connection manager.
type ManagerOptions struct {
	// Endpoint is the stream URL; its scheme selects the transport.
	Endpoint string
	// Tokens issues and caches stream tokens per identity.
	Tokens *TokenProvider
	// Parser decodes raw frames. Required.
	Parser *Parser
	// Sink receives every successfully parsed event.
	Sink EventSink
	// OnParseFailure runs after a frame fails to decode, so the owner can
	// refresh derived state it can no longer trust.
	OnParseFailure func(ctx context.Context)
	// Transport overrides the endpoint-derived transport, for tests.
	Transport Transport
	Logger    Logger
}

type managerCmd struct {
	identity orderfeed.Identity
	teardown bool
}

// Manager owns the stream connection lifecycle. All transitions flow through
// a single command channel consumed by Run, so identity changes, teardown,
// and transport callbacks never race: a connection is torn down and rebuilt
// on every identity change, and callbacks from a superseded connection are
// discarded by generation.
type Manager struct {
	opts ManagerOptions
	cmds chan managerCmd

	mu         sync.Mutex
	state      ConnState
	lastErr    string
	generation uint64

	cancelConn context.CancelFunc
	connDone   chan struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts: opts,
		cmds: make(chan managerCmd, 8),
	}
}

// SetIdentity requests a reconnect for the given identity. A zero identity
// behaves like Teardown.
func (m *Manager) SetIdentity(identity orderfeed.Identity) {
	m.cmds <- managerCmd{identity: identity}
}

// Teardown closes any current connection and invalidates the cached token.
func (m *Manager) Teardown() {
	m.cmds <- managerCmd{teardown: true}
}

// State reports the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err reports the most recent connection or token failure, if any.
func (m *Manager) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Run consumes commands until ctx is canceled. It must be called exactly
// once, typically in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	defer m.closeConn()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			// Any command supersedes the current connection.
			m.closeConn()
			if cmd.teardown || !cmd.identity.Present() {
				if m.opts.Tokens != nil {
					m.opts.Tokens.Invalidate()
				}
				m.setState(StateClosed, "")
				continue
			}
			m.connect(ctx, cmd.identity)
		}
	}
}

func (m *Manager) connect(ctx context.Context, identity orderfeed.Identity) {
	topics := ResolveTopics(identity, m.opts.Logger)
	if len(topics) == 0 {
		m.setState(StateClosed, "")
		return
	}
	m.setState(StateConnecting, "")

	var token string
	if m.opts.Tokens != nil {
		var err error
		token, err = m.opts.Tokens.Ensure(ctx, identity)
		if err != nil {
			logf(m.opts.Logger, "stream token for %s: %v", identity.Key(), err)
			m.setState(StateClosed, err.Error())
			return
		}
	}

	transport := m.opts.Transport
	if transport == nil {
		var err error
		transport, err = NewTransport(m.opts.Endpoint, m.opts.Logger)
		if err != nil {
			m.setState(StateClosed, err.Error())
			return
		}
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancelConn = cancel
	m.connDone = done

	cfg := StreamConfig{Endpoint: m.opts.Endpoint, Topics: topics, Token: token}
	hooks := Hooks{
		OnOpen: func() {
			if m.current(gen) {
				m.setState(StateOpen, "")
			}
		},
		OnError: func(err error) {
			if m.current(gen) {
				logf(m.opts.Logger, "stream connection: %v", err)
				m.setErr(err.Error())
			}
		},
		OnFrame: func(data []byte) {
			if !m.current(gen) {
				return
			}
			ev, err := m.opts.Parser.Parse(data)
			if err != nil {
				logf(m.opts.Logger, "dropping frame: %v", err)
				if m.opts.OnParseFailure != nil {
					m.opts.OnParseFailure(connCtx)
				}
				return
			}
			if m.opts.Sink != nil {
				m.opts.Sink.Dispatch(connCtx, ev)
			}
		},
	}

	go func() {
		defer close(done)
		transport.Run(connCtx, cfg, hooks)
	}()
}

func (m *Manager) closeConn() {
	if m.cancelConn == nil {
		return
	}
	// Advancing the generation first makes callbacks from the dying
	// connection stale before its goroutine has finished unwinding.
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
	m.cancelConn()
	<-m.connDone
	m.cancelConn = nil
	m.connDone = nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) setState(state ConnState, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.lastErr = errMsg
}

func (m *Manager) setErr(errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = errMsg
}
