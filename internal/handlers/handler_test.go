package handlers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/ncp/ncptest"
	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

var coordIEEE = [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11}

type testOwner struct {
	mu     sync.Mutex
	events []map[string]any
}

func (o *testOwner) ID() uint8                { return 1 }
func (o *testOwner) UniqueID() string         { return "00158D00012A3B4C-1" }
func (o *testOwner) CoordinatorIEEE() [8]byte { return coordIEEE }
func (o *testOwner) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
func (o *testOwner) EmitEvent(p map[string]any) {
	o.mu.Lock()
	o.events = append(o.events, p)
	o.mu.Unlock()
}

func testCluster(f ncp.NCP, id uint16) *zigbee.Cluster {
	cat := zcl.NewStandardCatalog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	return zigbee.NewCluster(f, cat.Get(id), id, zigbee.Addr{NWK: 0x1234, Endpoint: 1}, true)
}

func TestHandlerIdentity(t *testing.T) {
	tests := []struct {
		cluster  uint16
		wantID   string
		wantName string
	}{
		{zcl.ClusterBasic, "00158D00012A3B4C-1:0x0000", "basic"},
		{zcl.ClusterPowerConfiguration, "00158D00012A3B4C-1:0x0001", "power"},
		{zcl.ClusterOnOff, "00158D00012A3B4C-1:0x0006", "on_off"},
		{0xFC00, "00158D00012A3B4C-1:0xfc00", "cluster_handler_0xfc00"},
	}
	for _, tt := range tests {
		h := NewGeneric(testCluster(ncptest.New(), tt.cluster), &testOwner{})
		if h.ID() != tt.wantID {
			t.Errorf("ID() = %q, want %q", h.ID(), tt.wantID)
		}
		if h.Name() != tt.wantName {
			t.Errorf("Name() = %q, want %q", h.Name(), tt.wantName)
		}
		if h.ClusterID() != tt.cluster {
			t.Errorf("ClusterID() = 0x%04X", h.ClusterID())
		}
	}
}

func TestGenericConfigureBindsOnly(t *testing.T) {
	f := ncptest.New()
	h := NewGeneric(testCluster(f, 0xFC00), &testOwner{})

	if err := h.Configure(context.Background()); err != nil {
		t.Fatal(err)
	}
	binds := f.CallsFor("bind")
	if len(binds) != 1 {
		t.Fatalf("binds = %d, want 1", len(binds))
	}
	if req := binds[0].Req.(ncp.BindRequest); req.DstIEEE != coordIEEE {
		t.Errorf("bind destination = %X", req.DstIEEE)
	}
	if n := len(f.CallsFor("configure_reporting")); n != 0 {
		t.Errorf("reporting calls = %d, want 0", n)
	}
	if err := h.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if n := len(f.CallsFor("read_attributes")); n != 0 {
		t.Errorf("reads = %d, want 0", n)
	}
}

func TestConfigureJoinsFailures(t *testing.T) {
	f := ncptest.New()
	bindErr := errors.New("bind refused")
	repErr := errors.New("unreportable")
	f.Errs["bind"] = bindErr
	f.Errs["configure_reporting"] = repErr
	h := NewPowerConfiguration(testCluster(f, zcl.ClusterPowerConfiguration), &testOwner{})

	err := h.Configure(context.Background())
	if !errors.Is(err, bindErr) || !errors.Is(err, repErr) {
		t.Fatalf("err = %v, want both failures", err)
	}
	// Reporting is still attempted for every attribute after the bind failed.
	if n := len(f.CallsFor("configure_reporting")); n != 2 {
		t.Errorf("reporting calls = %d, want 2", n)
	}
}

func TestBasicInitializeFromCache(t *testing.T) {
	f := ncptest.New()
	f.SetAttr(zcl.ClusterBasic, 0x0004, zcl.TypeCharStr, []byte{4, 'L', 'U', 'M', 'I'})
	f.SetAttr(zcl.ClusterBasic, 0x0005, zcl.TypeCharStr, []byte{3, 'a', 'b', 'c'})
	h := NewBasic(testCluster(f, zcl.ClusterBasic), &testOwner{}).(*Basic)

	if err := h.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if h.Manufacturer() != "LUMI" || h.Model() != "abc" {
		t.Errorf("identity = %q %q", h.Manufacturer(), h.Model())
	}
	reads := len(f.CallsFor("read_attributes"))

	// From the cache nothing reaches the device, misses included.
	if err := h.Initialize(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if n := len(f.CallsFor("read_attributes")); n != reads {
		t.Fatalf("reads = %d, want %d", n, reads)
	}
	if err := h.Configure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.CallsFor("bind")); n != 0 {
		t.Errorf("basic configure must not bind, binds = %d", n)
	}
}

func TestInitializeBackendError(t *testing.T) {
	f := ncptest.New()
	f.Errs["read_attributes"] = ncp.ErrTimeout
	h := NewOnOff(testCluster(f, zcl.ClusterOnOff), &testOwner{})

	err := h.Initialize(context.Background(), false)
	if !errors.Is(err, ncp.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), "on_off") {
		t.Errorf("err = %q, want handler name in message", err)
	}
}

func TestIASZoneConfigureEnrolls(t *testing.T) {
	f := ncptest.New()
	h := NewIASZone(testCluster(f, zcl.ClusterIASZone), &testOwner{})

	if err := h.Configure(context.Background()); err != nil {
		t.Fatal(err)
	}
	writes := f.CallsFor("write_attributes")
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	rec := writes[0].Req.(ncp.WriteAttributesRequest).Records[0]
	if rec.AttrID != 0x0010 || string(rec.Value) != string(coordIEEE[:]) {
		t.Errorf("cie write = %+v", rec)
	}
	cmds := f.CallsFor("command")
	if len(cmds) != 1 || cmds[0].Req.(ncp.ClusterCommandRequest).CommandID != 0x00 {
		t.Errorf("enroll commands = %+v", cmds)
	}
}

func TestMultistateInputEmitsEvent(t *testing.T) {
	owner := &testOwner{}
	h := NewMultistateInput(testCluster(ncptest.New(), zcl.ClusterMultistateInput), owner)

	h.(AttributeListener).AttributeUpdated(0x0055, uint16(2))

	if len(owner.events) != 1 {
		t.Fatalf("events = %d, want 1", len(owner.events))
	}
	if owner.events[0]["value"] != uint16(2) || owner.events[0]["command"] != "multistate_input" {
		t.Errorf("event = %v", owner.events[0])
	}
}

func TestCommands(t *testing.T) {
	f := ncptest.New()
	ctx := context.Background()
	onoff := NewOnOff(testCluster(f, zcl.ClusterOnOff), &testOwner{}).(*OnOff)
	level := NewLevelControl(testCluster(f, zcl.ClusterLevelControl), &testOwner{}).(*LevelControl)
	ident := NewIdentify(testCluster(f, zcl.ClusterIdentify), &testOwner{}).(*Identify)

	onoff.On(ctx)
	onoff.Toggle(ctx)
	level.MoveToLevel(ctx, 128, 10)
	ident.Identify(ctx, 5)

	cmds := f.CallsFor("command")
	if len(cmds) != 4 {
		t.Fatalf("commands = %d, want 4", len(cmds))
	}
	want := []struct {
		cluster uint16
		cmd     uint8
		payload string
	}{
		{zcl.ClusterOnOff, 0x01, ""},
		{zcl.ClusterOnOff, 0x02, ""},
		{zcl.ClusterLevelControl, 0x04, "\x80\x0a\x00"},
		{zcl.ClusterIdentify, 0x00, "\x05\x00"},
	}
	for i, w := range want {
		req := cmds[i].Req.(ncp.ClusterCommandRequest)
		if req.ClusterID != w.cluster || req.CommandID != w.cmd || string(req.Payload) != w.payload {
			t.Errorf("command %d = %+v", i, req)
		}
	}
}

func TestPowerBatteryPercent(t *testing.T) {
	h := NewPowerConfiguration(testCluster(ncptest.New(), zcl.ClusterPowerConfiguration), &testOwner{}).(*PowerConfiguration)
	if _, ok := h.BatteryPercent(); ok {
		t.Error("BatteryPercent reported without a value")
	}
	h.Cluster().UpdateCache(0x0021, uint8(170))
	if pct, ok := h.BatteryPercent(); !ok || pct != 85 {
		t.Errorf("BatteryPercent = %v, %v; want 85", pct, ok)
	}
}
