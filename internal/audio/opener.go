package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"call-monitor/internal/calls"
	"call-monitor/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidChannel = errors.New("audio: invalid channel")
	// ErrChannelWaiting means the call is known but the requested recording has not appeared yet.
	ErrChannelWaiting = errors.New("audio: channel not available yet")
)

// CallLookup is the slice of the call registry the opener needs.
type CallLookup interface {
	Get(callID string) (calls.CallRecord, error)
}

type OpenerOptions struct {
	SampleRate    int
	ChunkBytes    int
	LookbackBytes int64
	PollInterval  time.Duration
	StableTicks   int
	MixWait       time.Duration

	Logger *slog.Logger
}

// Opener resolves (callId, channel) through the registry and opens live streams.
// It also owns the set of open streams so shutdown can close them all.
type Opener struct {
	calls CallLookup
	opts  OpenerOptions
	log   *slog.Logger

	mu      sync.Mutex
	streams map[string]*Stream
}

func NewOpener(lookup CallLookup, opts OpenerOptions) *Opener {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 8000
	}
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = 3200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 150 * time.Millisecond
	}
	return &Opener{
		calls:   lookup,
		opts:    opts,
		log:     logger.Component(opts.Logger, "audio_streams"),
		streams: map[string]*Stream{},
	}
}

func (o *Opener) Format() Format { return MonoPCM16(o.opts.SampleRate) }

func (o *Opener) tailOptions() TailOptions {
	return TailOptions{
		ChunkBytes:    o.opts.ChunkBytes,
		StableTicks:   o.opts.StableTicks,
		LookbackBytes: o.opts.LookbackBytes,
	}
}

// Open starts a stream. Errors are calls.ErrNotFound, ErrInvalidChannel or ErrChannelWaiting.
// The stream runs until its recording finishes, ctx ends, or Close is called.
func (o *Opener) Open(ctx context.Context, callID string, ch calls.Channel) (*Stream, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}
	rec, err := o.calls.Get(callID)
	if err != nil {
		return nil, err
	}

	var src source
	switch ch {
	case calls.ChannelClient, calls.ChannelAgent:
		r, err := o.openReader(rec.File(ch))
		if err != nil {
			return nil, err
		}
		src = readerSource{r: r}
	case calls.ChannelMixed:
		src, err = o.openMixed(callID, rec)
		if err != nil {
			return nil, err
		}
	}

	s := &Stream{
		ID:           uuid.NewString(),
		CallID:       callID,
		Channel:      ch,
		format:       o.Format(),
		pollInterval: o.opts.PollInterval,
		src:          src,
		onClose:      o.forget,
	}
	// Request-scoped loggers carry request_id into the stream's log lines.
	s.log = logger.Component(logger.From(ctx, o.opts.Logger), "audio_streams").
		With("stream_id", s.ID, "call_id", callID, "channel", string(ch))

	o.mu.Lock()
	o.streams[s.ID] = s
	o.mu.Unlock()

	newStream(ctx, s)
	s.log.Info("stream opened")
	return s, nil
}

func (o *Opener) openReader(f *calls.ChannelFile) (*TailReader, error) {
	if f == nil {
		return nil, ErrChannelWaiting
	}
	r, err := OpenTailReader(f.Path, o.tailOptions())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrChannelWaiting
		}
		return nil, fmt.Errorf("audio: open %s: %w", f.Path, err)
	}
	return r, nil
}

// openMixed degrades to a single reader when only one leg has been recorded so far.
// That reader keeps checking the registry and switches to mixing once the other leg appears.
func (o *Opener) openMixed(callID string, rec calls.CallRecord) (source, error) {
	client, cerr := o.openReader(rec.ClientFile)
	agent, aerr := o.openReader(rec.AgentFile)
	switch {
	case cerr == nil && aerr == nil:
		return o.newMixerSource(client, agent), nil
	case cerr == nil:
		return o.upgrading(callID, client, calls.ChannelAgent), nil
	case aerr == nil:
		return o.upgrading(callID, agent, calls.ChannelClient), nil
	default:
		if errors.Is(cerr, ErrChannelWaiting) {
			return nil, aerr
		}
		return nil, cerr
	}
}

func (o *Opener) newMixerSource(client, agent *TailReader) mixerSource {
	m := NewMixer(client, agent, MixerOptions{Format: o.Format(), MixWait: o.opts.MixWait})
	return mixerSource{m: m, readers: []*TailReader{client, agent}}
}

func (o *Opener) upgrading(callID string, present *TailReader, missing calls.Channel) *upgradingSource {
	return &upgradingSource{
		o:       o,
		callID:  callID,
		present: present,
		missing: missing,
		log:     o.log.With("call_id", callID),
	}
}

// upgradingSource plays the one recorded leg of a mixed stream until the other leg exists.
type upgradingSource struct {
	o       *Opener
	callID  string
	present *TailReader
	missing calls.Channel
	log     *slog.Logger

	mixed source
}

func (s *upgradingSource) next(ctx context.Context) (Result, error) {
	if s.mixed == nil {
		s.tryUpgrade()
	}
	if s.mixed != nil {
		return s.mixed.next(ctx)
	}
	return s.present.ReadNextChunk(), nil
}

// tryUpgrade opens the late leg as far behind its live edge as the present leg is,
// so both legs start mixing at the same point in the call.
func (s *upgradingSource) tryUpgrade() {
	rec, err := s.o.calls.Get(s.callID)
	if err != nil {
		return
	}
	f := rec.File(s.missing)
	if f == nil {
		return
	}
	opts := s.o.tailOptions()
	opts.FromEnd = true
	opts.LookbackBytes = s.present.Behind()
	late, err := OpenTailReader(f.Path, opts)
	if err != nil {
		return
	}

	client, agent := s.present, late
	if s.missing == calls.ChannelClient {
		client, agent = late, s.present
	}
	s.mixed = s.o.newMixerSource(client, agent)
	s.log.Info("mixed stream joined second leg", "path", late.Path())
}

func (s *upgradingSource) close() error {
	if s.mixed != nil {
		return s.mixed.close()
	}
	return s.present.Close()
}

func (o *Opener) forget(s *Stream) {
	o.mu.Lock()
	delete(o.streams, s.ID)
	o.mu.Unlock()
	s.log.Info("stream closed", "reason", s.WaitReason())
}

// Count is the number of streams opened and not yet closed.
func (o *Opener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

// CloseAll closes every open stream; used on shutdown.
func (o *Opener) CloseAll() {
	o.mu.Lock()
	open := make([]*Stream, 0, len(o.streams))
	for _, s := range o.streams {
		open = append(open, s)
	}
	o.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
}
