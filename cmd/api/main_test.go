package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"call-monitor/internal/calls"
	"call-monitor/internal/fanout"
	"call-monitor/internal/httpapi"
	"call-monitor/pkg/logger"

	"github.com/gin-gonic/gin"
)

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	subs := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subs[sub.Use] = true
	}
	for _, name := range []string{"serve", "scan", "version"} {
		if !subs[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestScanCmd_RequiresDir(t *testing.T) {
	t.Setenv("WATCH_DIR", "")
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"scan"})

	if err := root.Execute(); err == nil {
		t.Error("expected error when --dir is missing")
	}
}

func TestScanCmd_PrintsCalls(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"1700000000.5-15551234567-15557654321-in.sln",
		"1700000000.5-15551234567-15557654321-out.sln",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0, 0}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"scan", "--dir", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	var recs []calls.CallRecord
	if err := json.Unmarshal(out.Bytes(), &recs); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(recs))
	}
	if recs[0].CallID != "1700000000.5-15551234567" || recs[0].Status != calls.CallStatusActive {
		t.Fatalf("unexpected record %+v", recs[0])
	}
	if recs[0].ClientFile == nil || recs[0].AgentFile == nil {
		t.Fatalf("expected both channels populated")
	}
}

type emptyCalls struct{}

func (emptyCalls) Get(string) (calls.CallRecord, error) {
	return calls.CallRecord{}, calls.ErrNotFound
}
func (emptyCalls) ListActive() []calls.CallRecord { return nil }
func (emptyCalls) ListAll() []calls.CallRecord    { return nil }
func (emptyCalls) LastScan() time.Time            { return time.Time{} }

func TestRegisterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, httpapi.Handlers{Calls: emptyCalls{}, Hub: fanout.NewHub(logger.Discard())}, nil)

	want := map[string]bool{
		"GET /healthz":                          false,
		"GET /metrics":                          false,
		"GET /v1/status":                        false,
		"GET /v1/ws":                            false,
		"GET /v1/calls":                         false,
		"GET /v1/calls/:callId":                 false,
		"GET /v1/calls/:callId/transcripts":     false,
		"GET /v1/calls/:callId/stream/:channel": false,
	}
	for _, rt := range r.Routes() {
		key := rt.Method + " " + rt.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("route %s not registered", k)
		}
	}
}
