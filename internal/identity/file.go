package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Session is the on-disk record written by `farmbook login`.
type Session struct {
	UID        string    `json:"uid"`
	SignedInAt time.Time `json:"signedInAt"`
}

// ReadSession returns the uid stored at path, or "" when the file is missing.
func ReadSession(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session file %s: %w", path, err)
	}
	if len(data) == 0 {
		return "", nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	return s.UID, nil
}

// WriteSession records uid as the signed-in user. The file is replaced
// atomically so watchers never observe a partial write.
func WriteSession(path, uid string) error {
	if uid == "" {
		return fmt.Errorf("uid cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(Session{UID: uid, SignedInAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to install session file: %w", err)
	}
	return nil
}

// RemoveSession signs the user out. A missing file is not an error.
func RemoveSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// FileSource watches a session file with fsnotify. The file's presence and
// content decide the identity, so `farmbook login` in one terminal is picked
// up by a running `farmbook serve`.
type FileSource struct {
	path   string
	logger *log.Logger
}

// NewFileSource creates a source for the session file at path.
func NewFileSource(path string, logger *log.Logger) *FileSource {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &FileSource{path: path, logger: logger}
}

// Path returns the watched file.
func (f *FileSource) Path() string { return f.path }

// Watch implements Source.
//
// The parent directory is watched rather than the file, since the file is
// created, replaced and removed over its lifetime.
func (f *FileSource) Watch(ctx context.Context) (<-chan string, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	current := f.read()
	ch := make(chan string, 1)
	ch <- current

	go f.processEvents(ctx, w, ch, current)
	return ch, nil
}

func (f *FileSource) read() string {
	uid, err := ReadSession(f.path)
	if err != nil {
		f.logger.Printf("Warning: %v (treating as signed out)", err)
		return ""
	}
	return uid
}

func (f *FileSource) processEvents(ctx context.Context, w *fsnotify.Watcher, ch chan<- string, last string) {
	defer close(ch)
	defer w.Close()

	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			uid := f.read()
			if uid == last {
				continue
			}
			f.logger.Printf("Identity changed: %q -> %q", last, uid)
			last = uid

			select {
			case ch <- uid:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Printf("Watcher error: %v", err)
		}
	}
}
