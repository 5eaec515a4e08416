package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"call-monitor/internal/calls"
	"call-monitor/internal/metrics"
)

// Frame is one self-describing WAV chunk ready to send to a client.
type Frame struct {
	Data   []byte
	Offset int64
	Done   bool
}

// source is what a stream polls: a single tail reader or a mixer over two.
type source interface {
	next(ctx context.Context) (Result, error)
	close() error
}

type readerSource struct{ r *TailReader }

func (s readerSource) next(context.Context) (Result, error) { return s.r.ReadNextChunk(), nil }
func (s readerSource) close() error                         { return s.r.Close() }

type mixerSource struct {
	m       *Mixer
	readers []*TailReader
}

func (s mixerSource) next(ctx context.Context) (Result, error) { return s.m.ReadNextMixedChunk(ctx) }

func (s mixerSource) close() error {
	var errs []error
	for _, r := range s.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// Stream is one open live audio stream for a call and channel.
// A single goroutine polls the source; Close stops it and releases file handles
// before returning. Close is idempotent.
type Stream struct {
	ID      string
	CallID  string
	Channel calls.Channel

	format       Format
	pollInterval time.Duration
	src          source
	log          *slog.Logger

	frames chan Frame
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	onClose   func(*Stream)

	mu         sync.Mutex
	lastReason string
}

func newStream(parent context.Context, s *Stream) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.frames = make(chan Frame, 4)
	s.done = make(chan struct{})
	metrics.StreamsOpen.WithLabelValues(string(s.Channel)).Inc()
	go s.loop(ctx)
	return s
}

// Frames yields framed chunks until the recording is finished or the stream is closed.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Done is closed once the polling goroutine has exited and file handles are released.
func (s *Stream) Done() <-chan struct{} { return s.done }

// WaitReason is the most recent reason the stream was waiting or finished.
func (s *Stream) WaitReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReason
}

func (s *Stream) setReason(r string) {
	s.mu.Lock()
	s.lastReason = r
	s.mu.Unlock()
}

func (s *Stream) loop(ctx context.Context) {
	defer func() {
		if err := s.src.close(); err != nil {
			s.log.Warn("stream source close failed", "err", err)
		}
		metrics.StreamsOpen.WithLabelValues(string(s.Channel)).Dec()
		close(s.frames)
		close(s.done)
	}()

	for {
		res, err := s.src.next(ctx)
		if err != nil {
			return
		}
		switch res.Kind {
		case ResultChunk:
			f := Frame{Data: FrameWAV(s.format, res.Data), Offset: res.Offset, Done: res.Done}
			select {
			case s.frames <- f:
				metrics.StreamChunks.WithLabelValues(string(s.Channel)).Inc()
			case <-ctx.Done():
				return
			}
		case ResultWaiting:
			s.setReason(res.Reason)
			if err := sleepCtx(ctx, s.pollInterval); err != nil {
				return
			}
		case ResultDone:
			s.setReason(res.Reason)
			s.log.Debug("stream finished", "reason", res.Reason)
			return
		}
	}
}

// Close stops the polling loop and waits for it to release its files.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return nil
}
