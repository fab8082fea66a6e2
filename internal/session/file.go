package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store that persists the session as JSON text in a single file
// named after StorageKey. Writes replace the file atomically and the file is
// only readable by the owner.
type File struct {
	mu    sync.Mutex
	path  string
	codec Codec
}

// NewFile creates a file store under dir. A nil codec stores plain JSON.
func NewFile(dir string, codec Codec) (*File, error) {
	if dir == "" {
		return nil, errors.New("session directory must be specified")
	}

	if codec == nil {
		codec = PlainCodec{}
	}

	return &File{
		path:  filepath.Join(dir, StorageKey+".json"),
		codec: codec,
	}, nil
}

// DefaultDir returns the per-user configuration directory for the session
// file.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user configuration directory: %w", err)
	}
	return filepath.Join(base, "opsdesk"), nil
}

// Path returns the location of the session file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}

	if len(stored) == 0 {
		return Session{}, ErrNoSession
	}

	plain, err := f.codec.Decode(ctx, stored)
	if err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return Session{}, fmt.Errorf("parsing session: %w: %w", ErrCorrupt, err)
	}

	return s, nil
}

func (f *File) Set(ctx context.Context, s Session) error {
	plain, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}

	encoded, err := f.codec.Encode(ctx, plain)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), StorageKey+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	tmpName := tmp.Name()

	// the temporary file is removed if the rename does not happen
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting session file: %w", err)
	}

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing session: %w", err)
	}

	return nil
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
