package audio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type ResultKind int

const (
	ResultChunk ResultKind = iota
	ResultWaiting
	ResultDone
)

func (k ResultKind) String() string {
	switch k {
	case ResultChunk:
		return "chunk"
	case ResultWaiting:
		return "waiting"
	case ResultDone:
		return "done"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of one read attempt.
type Result struct {
	Kind ResultKind

	// Set for ResultChunk.
	Data     []byte
	Offset   int64 // offset after this chunk
	FileSize int64
	// Done marks a chunk that reached the end of a file that did not grow on this check.
	Done bool

	// Reason explains ResultWaiting and ResultDone.
	Reason string
}

type TailOptions struct {
	// ChunkBytes is the fixed frame size. Must be a multiple of the sample size.
	ChunkBytes int
	// StableTicks is how many consecutive checks without growth mark the file finished.
	StableTicks int
	// LookbackBytes limits how much history a late joiner receives.
	LookbackBytes int64
	// FromEnd starts exactly LookbackBytes before the current end, even when that is 0.
	FromEnd bool
}

// TailReader incrementally reads a recording that an external process is still appending to.
// It is not safe for concurrent use; each open stream owns its readers.
type TailReader struct {
	path string
	opts TailOptions

	f          *os.File
	dataOffset int64
	offset     int64
	lastSize   int64
	quietTicks int
}

// OpenTailReader prepares a reader for path. When the file already holds more than
// LookbackBytes of audio the start is moved forward so a client joining mid-call
// gets recent context instead of a replay from the beginning.
func OpenTailReader(path string, opts TailOptions) (*TailReader, error) {
	if opts.ChunkBytes <= 0 || opts.ChunkBytes%2 != 0 {
		return nil, fmt.Errorf("audio: chunk size must be a positive even number, got %d", opts.ChunkBytes)
	}
	if opts.StableTicks <= 0 {
		opts.StableTicks = 20
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	t := &TailReader{path: path, opts: opts, f: f}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		t.dataOffset = WAVHeaderSize
		if off, err := wavDataOffset(f); err == nil {
			t.dataOffset = off
		}
	}

	size := st.Size()
	t.offset = t.dataOffset
	switch {
	case opts.FromEnd:
		t.offset = size - opts.LookbackBytes
	case opts.LookbackBytes > 0 && size-opts.LookbackBytes > t.offset:
		t.offset = size - opts.LookbackBytes
	}
	t.offset = t.alignDown(t.offset)
	t.lastSize = size
	return t, nil
}

// alignDown keeps offsets on a 16-bit sample boundary relative to the data start.
func (t *TailReader) alignDown(off int64) int64 {
	if off < t.dataOffset {
		return t.dataOffset
	}
	return t.dataOffset + (off-t.dataOffset)&^1
}

func (t *TailReader) Offset() int64 { return t.offset }

func (t *TailReader) Path() string { return t.path }

// Behind is how many bytes of the last observed file size are still unread.
func (t *TailReader) Behind() int64 { return max(t.lastSize-t.offset, 0) }

// ReadNextChunk returns exactly one chunk, a waiting signal, or done.
// A chunk shorter than ChunkBytes is only returned once the file has been quiet
// for StableTicks checks, i.e. it is confirmed not to be growing.
func (t *TailReader) ReadNextChunk() Result {
	if t.f == nil {
		return Result{Kind: ResultDone, Reason: "closed"}
	}

	size, err := t.statSize()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Kind: ResultDone, Reason: "file missing"}
		}
		return Result{Kind: ResultWaiting, Reason: "stat failed: " + err.Error()}
	}

	growing := t.observe(size)

	if t.offset >= size {
		if growing {
			return Result{Kind: ResultWaiting, Reason: "growing"}
		}
		t.quietTicks++
		if t.quiet() {
			return Result{Kind: ResultDone, Reason: "no growth"}
		}
		return Result{Kind: ResultWaiting, Reason: "no new data"}
	}

	want := int64(t.opts.ChunkBytes)
	final := false
	if size-t.offset < want {
		// Tail fragment: the writer may be mid-frame. Look again before deciding.
		if again, err := t.statSize(); err == nil && again > size {
			size = again
			growing = t.observe(size) || growing
		}
		if size-t.offset < want {
			if !growing {
				t.quietTicks++
			}
			if growing || !t.quiet() {
				return Result{Kind: ResultWaiting, Reason: "partial chunk"}
			}
			want = (size - t.offset) &^ 1
			if want == 0 {
				return Result{Kind: ResultDone, Reason: "no growth"}
			}
			final = true
		}
	}

	buf := make([]byte, want)
	n, err := t.f.ReadAt(buf, t.offset)
	if int64(n) < want {
		if err != nil && !errors.Is(err, io.EOF) {
			return Result{Kind: ResultWaiting, Reason: "read failed: " + err.Error()}
		}
		// Size went backwards between stat and read; treat as not ready.
		return Result{Kind: ResultWaiting, Reason: "short read"}
	}

	t.offset += want
	return Result{
		Kind:     ResultChunk,
		Data:     buf,
		Offset:   t.offset,
		FileSize: size,
		Done:     final || (t.offset >= size && !growing),
	}
}

func (t *TailReader) statSize() (int64, error) {
	st, err := os.Stat(t.path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// observe records a size sample and reports whether the file grew since the previous one.
// Growth resets the quiet counter; the counter itself only advances while the reader
// is caught up, so draining a backlog quickly never looks like silence.
func (t *TailReader) observe(size int64) bool {
	grew := size > t.lastSize
	if grew {
		t.quietTicks = 0
	}
	t.lastSize = size
	return grew
}

func (t *TailReader) quiet() bool { return t.quietTicks > t.opts.StableTicks }

// Close releases the file handle. Calling it more than once is a no-op.
func (t *TailReader) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
