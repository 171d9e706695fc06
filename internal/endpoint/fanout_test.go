package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp/ncptest"
	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

// captureHandler records log messages with their level.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}
func (c *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *captureHandler) WithGroup(string) slog.Handler      { return c }

func (c *captureHandler) count(level slog.Level, msg string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

type stubHandler struct {
	id     string
	logger *slog.Logger
	err    error
	panics bool
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubHandler) ID() string               { return s.id }
func (s *stubHandler) Name() string             { return s.id }
func (s *stubHandler) ClusterID() uint16        { return 0 }
func (s *stubHandler) Cluster() *zigbee.Cluster { return nil }
func (s *stubHandler) Debug(msg string, args ...any) {
	s.logger.Debug(msg, append(args, "handler_id", s.id)...)
}
func (s *stubHandler) Warn(msg string, args ...any) {
	s.logger.Warn(msg, append(args, "handler_id", s.id)...)
}

func (s *stubHandler) run() error {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.panics {
		panic("broken handler")
	}
	return s.err
}

func (s *stubHandler) Initialize(context.Context, bool) error { return s.run() }
func (s *stubHandler) Configure(context.Context) error        { return s.run() }

func stubs(logger *slog.Logger, n int) []*stubHandler {
	out := make([]*stubHandler, n)
	for i := range out {
		out[i] = &stubHandler{id: fmt.Sprintf("h%d", i), logger: logger, delay: 5 * time.Millisecond}
	}
	return out
}

func asHandlers(s []*stubHandler) []handlers.ClusterHandler {
	out := make([]handlers.ClusterHandler, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}

func TestRunStageIsolatesFailure(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(capture)
	hs := stubs(logger, 5)
	boom := errors.New("device did not answer")
	hs[2].err = boom

	results := runStage(context.Background(), "configure", asHandlers(hs), func(ctx context.Context, h handlers.ClusterHandler) error {
		return h.Configure(ctx)
	})

	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for i, r := range results {
		if r.HandlerID != hs[i].id {
			t.Errorf("result %d handler = %s", i, r.HandlerID)
		}
		if i == 2 {
			if !errors.Is(r.Err, boom) {
				t.Errorf("failing handler err = %v", r.Err)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("handler %s err = %v", r.HandlerID, r.Err)
		}
	}
	for _, h := range hs {
		if h.calls.Load() != 1 {
			t.Errorf("%s called %d times", h.id, h.calls.Load())
		}
	}
	if n := capture.count(slog.LevelWarn, "stage failed"); n != 1 {
		t.Errorf("stage failed logs = %d, want 1", n)
	}
	if n := capture.count(slog.LevelDebug, "stage succeeded"); n != 4 {
		t.Errorf("stage succeeded logs = %d, want 4", n)
	}
}

func TestRunStageRecoversPanic(t *testing.T) {
	capture := &captureHandler{}
	hs := stubs(slog.New(capture), 3)
	hs[0].panics = true

	results := runStage(context.Background(), "initialize", asHandlers(hs), func(ctx context.Context, h handlers.ClusterHandler) error {
		return h.Initialize(ctx, false)
	})

	if results[0].Err == nil {
		t.Error("panic not reported as failure")
	}
	if results[1].Err != nil || results[2].Err != nil {
		t.Errorf("other handlers failed: %+v", results)
	}
	if n := capture.count(slog.LevelWarn, "stage failed"); n != 1 {
		t.Errorf("stage failed logs = %d, want 1", n)
	}
}

func TestRunStageRunsConcurrently(t *testing.T) {
	hs := stubs(testLogger(), 10)
	for _, h := range hs {
		h.delay = 50 * time.Millisecond
	}

	start := time.Now()
	runStage(context.Background(), "configure", asHandlers(hs), func(ctx context.Context, h handlers.ClusterHandler) error {
		return h.Configure(ctx)
	})
	// Serial execution would take 500ms.
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("stage took %v, handlers did not run concurrently", elapsed)
	}
}

func TestRunStageEmpty(t *testing.T) {
	if results := runStage(context.Background(), "configure", nil, nil); len(results) != 0 {
		t.Errorf("results = %v", results)
	}
}

func TestEndpointStageWithFailingCluster(t *testing.T) {
	capture := &captureHandler{}
	dev := newFakeDevice()
	dev.logger = slog.New(capture)

	f := ncptest.New()
	f.ClusterErrs[zcl.ClusterTemperature] = errors.New("unsupported cluster")
	src := testSource(f, []uint16{zcl.ClusterIdentify, zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterTemperature}, nil)
	ep, err := New(src, dev, handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ep.Claim(ep.Unclaimed()...)
	if len(ep.ClaimedHandlers()) != len(ep.AllHandlers()) {
		t.Fatalf("claimed %d of %d handlers", len(ep.ClaimedHandlers()), len(ep.AllHandlers()))
	}

	ep.Configure(context.Background())

	bound := map[uint16]int{}
	for _, c := range f.CallsFor("bind") {
		bound[c.ClusterID]++
	}
	// Identify does not bind.
	for _, id := range []uint16{zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterTemperature} {
		if bound[id] != 1 {
			t.Errorf("cluster 0x%04X bound %d times, want 1", id, bound[id])
		}
	}
	if n := capture.count(slog.LevelWarn, "stage failed"); n != 1 {
		t.Errorf("stage failed logs = %d, want 1", n)
	}
}
