package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileRepo appends one JSON object per line to a local file.
type FileRepo struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileRepo opens (or creates) path for appending.
func OpenFileRepo(path string) (*FileRepo, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileRepo{f: f}, nil
}

func (r *FileRepo) Append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	_, err = r.f.Write(line)
	return err
}

func (r *FileRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
