package calls

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStat is one entry of a directory listing.
type FileStat struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Lister provides the periodic directory listing the registry consumes.
type Lister interface {
	List(ctx context.Context) ([]FileStat, error)
}

// DirLister lists audio files in a single directory on the local filesystem.
// It only stats files; it never opens them.
type DirLister struct {
	Dir string
}

func NewDirLister(dir string) DirLister { return DirLister{Dir: dir} }

func (l DirLister) List(ctx context.Context) ([]FileStat, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, err
	}

	out := make([]FileStat, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !IsAudioFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// The recorder may rotate files between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, FileStat{
			Name:    e.Name(),
			Path:    filepath.Join(l.Dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}
