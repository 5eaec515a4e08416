package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"call-monitor/internal/audio"
	"call-monitor/internal/calls"
	"call-monitor/internal/fanout"
	"call-monitor/internal/transcripts"
	"call-monitor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// CallReader is the read side of the call registry.
type CallReader interface {
	Get(callID string) (calls.CallRecord, error)
	ListActive() []calls.CallRecord
	ListAll() []calls.CallRecord
	LastScan() time.Time
}

type StreamOpener interface {
	Open(ctx context.Context, callID string, ch calls.Channel) (*audio.Stream, error)
	Count() int
}

type TranscriptLister interface {
	ListByCall(ctx context.Context, callID string, limit int) ([]transcripts.Record, error)
}

type LeaderStatus interface {
	IsLeader() bool
	HolderID() string
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls       CallReader
	Streams     StreamOpener
	Hub         *fanout.Hub
	Transcripts TranscriptLister
	Lease       LeaderStatus

	Upgrader websocket.Upgrader
}

// --- Calls ---

// ListCalls returns calls newest first. ?filter=active limits to calls in progress.
func (h Handlers) ListCalls(c *gin.Context) {
	var out []calls.CallRecord
	switch c.DefaultQuery("filter", "all") {
	case "all":
		out = h.Calls.ListAll()
	case "active":
		out = h.Calls.ListActive()
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "filter must be all or active"})
		return
	}
	if out == nil {
		out = []calls.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.Get(c.Param("callId"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Audio ---

// StreamAudio writes framed WAV chunks until the recording finishes or the client leaves.
// Every chunk carries its own header so players can decode chunks independently.
func (h Handlers) StreamAudio(c *gin.Context) {
	callID := c.Param("callId")
	ch := calls.Channel(c.Param("channel"))
	log := logger.FromGin(c)

	s, err := h.Streams.Open(c.Request.Context(), callID, ch)
	switch {
	case errors.Is(err, audio.ErrInvalidChannel):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channel must be in, out or mixed"})
		return
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	case errors.Is(err, audio.ErrChannelWaiting):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusAccepted, gin.H{"status": "waiting"})
		return
	case err != nil:
		log.Error("open stream failed", "call_id", callID, "channel", string(ch), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stream open failed"})
		return
	}
	defer s.Close()

	c.Header("Content-Type", "audio/wav")
	c.Header("Cache-Control", "no-store")
	c.Header("X-Stream-Id", s.ID)
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				return false
			}
			if _, err := w.Write(f.Data); err != nil {
				return false
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// --- Transcripts ---

func (h Handlers) ListTranscripts(c *gin.Context) {
	if h.Transcripts == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "transcript storage not configured"})
		return
	}
	limit := 500
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.Transcripts.ListByCall(c.Request.Context(), c.Param("callId"), limit)
	if err != nil {
		logger.FromGin(c).Error("list transcripts failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcript lookup failed"})
		return
	}
	if recs == nil {
		recs = []transcripts.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": recs, "count": len(recs)})
}

// Subscribe upgrades to a websocket that receives transcript events.
// ?callId= joins that call immediately; further calls are joined with subscribe commands.
func (h Handlers) Subscribe(c *gin.Context) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.FromGin(c).Warn("websocket upgrade failed", "err", err)
		return
	}
	fanout.NewClient(h.Hub, conn, logger.FromGin(c)).Serve(c.Request.Context(), c.Query("callId"))
}

// --- Status ---

func (h Handlers) Status(c *gin.Context) {
	body := gin.H{
		"calls": gin.H{
			"active": len(h.Calls.ListActive()),
			"total":  len(h.Calls.ListAll()),
		},
		"streams":     h.Streams.Count(),
		"subscribers": h.Hub.Subscribers(),
	}
	if last := h.Calls.LastScan(); !last.IsZero() {
		body["lastScan"] = last.UTC()
	}
	if h.Lease != nil {
		body["instanceId"] = h.Lease.HolderID()
		body["leader"] = h.Lease.IsLeader()
	}
	c.JSON(http.StatusOK, body)
}
