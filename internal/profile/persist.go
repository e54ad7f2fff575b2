package profile

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

// Persister loads and saves a profile.
type Persister interface {
	Load(ctx context.Context) (Profile, error)
	Save(ctx context.Context, p Profile) error
}

// FilePersister stores the profile as a JSON object in a single file.
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister returns a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the file location.
func (f *FilePersister) Path() string {
	return f.path
}

// CorruptSuffix is appended to a profile file that failed to decode.
const CorruptSuffix = ".corrupt"

// Load reads the profile. A missing file returns an empty profile. A file
// that does not decode is renamed with CorruptSuffix, so the next save
// starts clean and the bad contents stay around for inspection.
func (f *FilePersister) Load(ctx context.Context) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Profile{}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: f.path, Err: err}
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		if rerr := os.Rename(f.path, f.path+CorruptSuffix); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, &PersistenceError{Op: "load", Path: f.path, Err: fmt.Errorf("%w: %w", ErrCorruptProfile, err)}
	}
	if p == nil {
		p = Profile{}
	}
	return p, nil
}

// Save writes p to a temp file in the same directory and renames it over
// the target, so readers never observe a partial file.
func (f *FilePersister) Save(ctx context.Context, p Profile) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	return nil
}
