package audio

import (
	"os"
	"path/filepath"
	"testing"
)

const testChunk = 8

func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, pattern(n), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func appendFile(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(pattern(n)); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func openReader(t *testing.T, path string, opts TailOptions) *TailReader {
	t.Helper()
	if opts.ChunkBytes == 0 {
		opts.ChunkBytes = testChunk
	}
	r, err := OpenTailReader(path, opts)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func expectKind(t *testing.T, res Result, want ResultKind) {
	t.Helper()
	if res.Kind != want {
		t.Fatalf("expected %s, got %s (%s)", want, res.Kind, res.Reason)
	}
}

func TestTailReader_ReadsFullChunksThenFinishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, 3*testChunk)
	r := openReader(t, path, TailOptions{StableTicks: 2})

	for i := 0; i < 3; i++ {
		res := r.ReadNextChunk()
		expectKind(t, res, ResultChunk)
		if len(res.Data) != testChunk {
			t.Fatalf("chunk %d: expected %d bytes, got %d", i, testChunk, len(res.Data))
		}
		if res.Offset != int64((i+1)*testChunk) {
			t.Fatalf("chunk %d: unexpected offset %d", i, res.Offset)
		}
		if res.Done != (i == 2) {
			t.Fatalf("chunk %d: unexpected done=%v", i, res.Done)
		}
	}

	expectKind(t, r.ReadNextChunk(), ResultWaiting)
	expectKind(t, r.ReadNextChunk(), ResultWaiting)
	expectKind(t, r.ReadNextChunk(), ResultDone)
}

func TestTailReader_NeverEmitsShortChunkWhileGrowing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, testChunk+testChunk/2)
	r := openReader(t, path, TailOptions{StableTicks: 3})

	expectKind(t, r.ReadNextChunk(), ResultChunk)

	res := r.ReadNextChunk()
	expectKind(t, res, ResultWaiting)
	if res.Reason != "partial chunk" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}

	appendFile(t, path, testChunk/2)
	res = r.ReadNextChunk()
	expectKind(t, res, ResultChunk)
	if len(res.Data) != testChunk {
		t.Fatalf("expected full chunk after growth, got %d bytes", len(res.Data))
	}
}

func TestTailReader_GrowthResetsQuietCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, 0)
	r := openReader(t, path, TailOptions{StableTicks: 2})

	expectKind(t, r.ReadNextChunk(), ResultWaiting)
	expectKind(t, r.ReadNextChunk(), ResultWaiting)

	appendFile(t, path, 2)
	expectKind(t, r.ReadNextChunk(), ResultWaiting)

	// Counter restarted: two more quiet checks are still Waiting.
	expectKind(t, r.ReadNextChunk(), ResultWaiting)
	expectKind(t, r.ReadNextChunk(), ResultWaiting)
}

func TestTailReader_ShortFinalChunkOnlyWhenQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, 5)
	r := openReader(t, path, TailOptions{StableTicks: 2})

	expectKind(t, r.ReadNextChunk(), ResultWaiting)
	expectKind(t, r.ReadNextChunk(), ResultWaiting)

	res := r.ReadNextChunk()
	expectKind(t, res, ResultChunk)
	if len(res.Data) != 4 {
		t.Fatalf("expected sample-aligned 4 byte tail, got %d", len(res.Data))
	}
	if !res.Done {
		t.Fatalf("expected final chunk to be marked done")
	}

	expectKind(t, r.ReadNextChunk(), ResultDone)
}

func TestTailReader_FileVanishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, testChunk)
	r := openReader(t, path, TailOptions{})

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res := r.ReadNextChunk()
	expectKind(t, res, ResultDone)
	if res.Reason != "file missing" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestTailReader_LateJoinLookback(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		lookback int64
		want     int64
	}{
		{"short file starts at zero", 30, 40, 0},
		{"long file seeks back", 100, 40, 60},
		{"odd lookback aligns to sample", 100, 41, 58},
		{"no lookback replays", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
			writeFile(t, path, tt.size)
			r := openReader(t, path, TailOptions{LookbackBytes: tt.lookback})
			if r.Offset() != tt.want {
				t.Fatalf("expected offset %d, got %d", tt.want, r.Offset())
			}
		})
	}
}

func TestTailReader_SkipsWAVHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.wav")
	data := FrameWAV(MonoPCM16(8000), pattern(testChunk))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := openReader(t, path, TailOptions{})
	if r.Offset() != WAVHeaderSize {
		t.Fatalf("expected reads to start after the header, got %d", r.Offset())
	}
	res := r.ReadNextChunk()
	expectKind(t, res, ResultChunk)
	if res.Data[0] != 0 || res.Data[testChunk-1] != testChunk-1 {
		t.Fatalf("expected sample data, got %v", res.Data)
	}
}

func TestTailReader_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1700000000.1-1-in.sln")
	writeFile(t, path, testChunk)
	r := openReader(t, path, TailOptions{})

	if err := r.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	expectKind(t, r.ReadNextChunk(), ResultDone)
}

func TestOpenTailReader_RejectsOddChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.sln")
	writeFile(t, path, 4)
	if _, err := OpenTailReader(path, TailOptions{ChunkBytes: 3}); err == nil {
		t.Fatalf("expected error for odd chunk size")
	}
}

func TestTailReader_FromEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call-out.sln")
	writeFile(t, path, 3*testChunk)

	r := openReader(t, path, TailOptions{FromEnd: true})
	if r.Offset() != 3*testChunk || r.Behind() != 0 {
		t.Fatalf("expected to start at the live edge, offset=%d behind=%d", r.Offset(), r.Behind())
	}

	r = openReader(t, path, TailOptions{FromEnd: true, LookbackBytes: testChunk})
	if r.Offset() != 2*testChunk || r.Behind() != testChunk {
		t.Fatalf("expected one chunk behind the edge, offset=%d behind=%d", r.Offset(), r.Behind())
	}
}
