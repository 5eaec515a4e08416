package audio

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// ChunkSource is anything that yields tail-read results, normally a *TailReader.
type ChunkSource interface {
	ReadNextChunk() Result
}

type MixerOptions struct {
	Format Format
	// MixWait bounds how long one channel's data is held back waiting for the other.
	// After that the available channel is passed through alone.
	MixWait time.Duration

	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// maxStaleSkips bounds how many already-covered chunks one read drops before reporting Waiting.
const maxStaleSkips = 8

// Mixer combines the client and agent channels into one mono stream.
// Like TailReader it is owned by a single stream goroutine.
//
// Both legs are kept on the same timeline: emitted counts the bytes of output
// so far, and each leg's cursor counts the bytes read from it. When one leg was
// passed through alone, the other leg's audio for that window is dropped once it
// arrives instead of being mixed against later audio.
type Mixer struct {
	client ChunkSource
	agent  ChunkSource
	opts   MixerOptions

	// nextAt is the earliest time the next cycle may read, keeping output at real-time cadence.
	nextAt time.Time

	emitted   int64
	clientPos int64
	agentPos  int64
}

func NewMixer(client, agent ChunkSource, opts MixerOptions) *Mixer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Mixer{client: client, agent: agent, opts: opts}
}

// ReadNextMixedChunk runs one mix cycle. It returns a context error only when ctx ends.
func (m *Mixer) ReadNextMixedChunk(ctx context.Context) (Result, error) {
	if wait := m.nextAt.Sub(m.opts.Clock()); wait > 0 {
		if err := m.opts.Sleep(ctx, wait); err != nil {
			return Result{}, err
		}
	}

	a := m.read(m.client, &m.clientPos)
	b := m.read(m.agent, &m.agentPos)

	// One side has data, the other is still catching up: give it one bounded chance.
	if m.opts.MixWait > 0 {
		switch {
		case a.Kind == ResultChunk && b.Kind == ResultWaiting:
			if err := m.opts.Sleep(ctx, m.opts.MixWait); err != nil {
				return Result{}, err
			}
			b = m.read(m.agent, &m.agentPos)
		case b.Kind == ResultChunk && a.Kind == ResultWaiting:
			if err := m.opts.Sleep(ctx, m.opts.MixWait); err != nil {
				return Result{}, err
			}
			a = m.read(m.client, &m.clientPos)
		}
	}

	var out Result
	switch {
	case a.Kind == ResultChunk && b.Kind == ResultChunk:
		out = Result{
			Kind:   ResultChunk,
			Data:   MixPCM16(a.Data, b.Data),
			Offset: max(a.Offset, b.Offset),
			Done:   a.Done && b.Done,
		}
	case a.Kind == ResultChunk:
		out = a
	case b.Kind == ResultChunk:
		out = b
	case a.Kind == ResultWaiting || b.Kind == ResultWaiting:
		reason := a.Reason
		if a.Kind != ResultWaiting {
			reason = b.Reason
		}
		return Result{Kind: ResultWaiting, Reason: reason}, nil
	default:
		return Result{Kind: ResultDone, Reason: "both channels finished"}, nil
	}

	m.emitted += int64(len(out.Data))
	m.nextAt = m.opts.Clock().Add(m.opts.Format.Duration(len(out.Data)))
	return out, nil
}

// read pulls the next chunk of one leg that is not already covered by emitted output.
// A chunk straddling the emitted position is trimmed to its uncovered part.
func (m *Mixer) read(src ChunkSource, pos *int64) Result {
	for i := 0; i < maxStaleSkips; i++ {
		r := src.ReadNextChunk()
		if r.Kind != ResultChunk {
			return r
		}
		start := *pos
		*pos += int64(len(r.Data))
		covered := m.emitted - start
		if covered <= 0 {
			return r
		}
		if covered < int64(len(r.Data)) {
			r.Data = r.Data[covered:]
			return r
		}
	}
	return Result{Kind: ResultWaiting, Reason: "realigning channels"}
}

// MixPCM16 averages two signed 16-bit little endian sample streams.
// The shorter input is padded with silence and results are clamped to the int16 range.
func MixPCM16(a, b []byte) []byte {
	n := max(len(a), len(b)) &^ 1
	out := make([]byte, n)
	le := binary.LittleEndian
	for i := 0; i+1 < n; i += 2 {
		var sa, sb int32
		if i+1 < len(a) {
			sa = int32(int16(le.Uint16(a[i:])))
		}
		if i+1 < len(b) {
			sb = int32(int16(le.Uint16(b[i:])))
		}
		le.PutUint16(out[i:], uint16(clamp16((sa+sb)/2)))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
