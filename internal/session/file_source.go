package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

// fileIdentity is the on-disk session file shape.
type fileIdentity struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	DisplayName    string `json:"displayName,omitempty"`
	AddressSummary string `json:"addressSummary,omitempty"`
}

// FileSource feeds a Session from a JSON file on disk, so an external login
// flow (or an operator) can switch the identity without restarting the
// daemon. A missing or empty file signs the session out.
type FileSource struct {
	path    string
	session *Session
	logger  orderfeed.Logger
}

func NewFileSource(path string, sess *Session, logger orderfeed.Logger) *FileSource {
	return &FileSource{path: path, session: sess, logger: logger}
}

// Load reads the file once and applies it to the session.
func (f *FileSource) Load() error {
	identity, err := readIdentityFile(f.path)
	if err != nil {
		return err
	}
	f.session.SetIdentity(identity)
	return nil
}

// Watch applies the file now and re-applies it on every change until ctx is
// canceled. The watch is on the parent directory because editors and atomic
// writers replace the file rather than writing in place.
func (f *FileSource) Watch(ctx context.Context) error {
	if err := f.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating session watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	base := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Load(); err != nil {
				f.logf("reloading session file: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logf("session watcher: %v", err)
		}
	}
}

func (f *FileSource) logf(format string, args ...any) {
	if f.logger != nil {
		f.logger.Printf(format, args...)
	}
}

func readIdentityFile(path string) (orderfeed.Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return orderfeed.Identity{}, nil
	}
	if err != nil {
		return orderfeed.Identity{}, fmt.Errorf("reading session file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return orderfeed.Identity{}, nil
	}

	var raw fileIdentity
	if err := json.Unmarshal(data, &raw); err != nil {
		return orderfeed.Identity{}, fmt.Errorf("decoding session file: %w", err)
	}
	kind := orderfeed.IdentityKind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	switch kind {
	case "":
		return orderfeed.Identity{}, nil
	case orderfeed.IdentityUser, orderfeed.IdentityRestaurant:
	default:
		return orderfeed.Identity{}, fmt.Errorf("%w: unknown identity kind %q", orderfeed.ErrInvalidInput, raw.Kind)
	}
	return orderfeed.Identity{
		Kind:           kind,
		ID:             strings.TrimSpace(raw.ID),
		DisplayName:    raw.DisplayName,
		AddressSummary: raw.AddressSummary,
	}, nil
}
