package orderfeed

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MirrorState is the snapshot a StateBackend persists between runs: the last
// mirrored inbox page and unread count. It is a warm-start cache only; the
// server stays authoritative and the engine refetches after connecting.
type MirrorState struct {
	IdentityKey string         `json:"identityKey,omitempty"`
	Inbox       []Notification `json:"inbox,omitempty"`
	UnreadCount int            `json:"unreadCount"`
	SavedAt     time.Time      `json:"savedAt"`
}

// StateBackend persists the notification mirror. Load returns (nil, nil) when
// no snapshot exists yet.
type StateBackend interface {
	Load() (*MirrorState, error)
	Save(state *MirrorState) error
}

type stateBackendCloser interface {
	Close() error
}

// CloseStateBackend closes a backend if it holds external resources.
func CloseStateBackend(b StateBackend) error {
	if closer, ok := b.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *MirrorState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*MirrorState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneMirrorState(b.snapshot)
}

func (b *InMemoryStateBackend) Save(state *MirrorState) error {
	if b == nil || state == nil {
		return nil
	}
	clone, err := cloneMirrorState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = clone
	return nil
}

func cloneMirrorState(state *MirrorState) (*MirrorState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone MirrorState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

type JSONFileStateBackend struct {
	path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{path: path}
}

func (b *JSONFileStateBackend) Load() (*MirrorState, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var state MirrorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (b *JSONFileStateBackend) Save(state *MirrorState) error {
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(b.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
