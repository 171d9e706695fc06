package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/ncp/ncptest"
	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDevice struct {
	coordinator bool
	status      Status
	logger      *slog.Logger
	entities    *EntityBuffer

	mu       sync.Mutex
	power    handlers.ClusterHandler
	identify handlers.ClusterHandler
	basic    handlers.ClusterHandler
	signals  []string
	events   []map[string]any
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{logger: testLogger(), entities: NewEntityBuffer()}
}

func (d *fakeDevice) IEEE() string             { return "00158D00012A3B4C" }
func (d *fakeDevice) IsCoordinator() bool      { return d.coordinator }
func (d *fakeDevice) Status() Status           { return d.status }
func (d *fakeDevice) CoordinatorIEEE() [8]byte { return [8]byte{0xAA} }
func (d *fakeDevice) Logger() *slog.Logger     { return d.logger }
func (d *fakeDevice) Entities() *EntityBuffer  { return d.entities }

func (d *fakeDevice) SetPowerConfigurationHandler(h handlers.ClusterHandler) { d.power = h }
func (d *fakeDevice) SetIdentifyHandler(h handlers.ClusterHandler)           { d.identify = h }
func (d *fakeDevice) SetBasicHandler(h handlers.ClusterHandler)              { d.basic = h }

func (d *fakeDevice) Dispatch(signal string, _ ...any) {
	d.mu.Lock()
	d.signals = append(d.signals, signal)
	d.mu.Unlock()
}

func (d *fakeDevice) SendEvent(p map[string]any) {
	d.mu.Lock()
	d.events = append(d.events, p)
	d.mu.Unlock()
}

// recordingProbe claims every server handler whose cluster id is listed.
type recordingProbe struct {
	calls int
	claim []uint16
}

func (p *recordingProbe) DiscoverEntities(ep *Endpoint) {
	p.calls++
	for _, id := range p.claim {
		if h, ok := ep.ServerHandler(id); ok {
			ep.Claim(h)
		}
	}
}

func u16(v uint16) *uint16 { return &v }

func testSource(f ncp.NCP, in, out []uint16) *zigbee.Endpoint {
	cat := zcl.NewStandardCatalog(testLogger())
	return zigbee.NewEndpoint(f, cat, [8]byte{0x00, 0x15, 0x8D}, 0x1234, ncp.SimpleDescriptor{
		Endpoint:    1,
		ProfileID:   u16(zcl.ProfileHomeAutomation),
		DeviceID:    u16(0x0051),
		InClusters:  in,
		OutClusters: out,
	}, nil)
}

func TestNewRejectsNilInputs(t *testing.T) {
	reg := handlers.DefaultRegistry()
	if _, err := New(nil, newFakeDevice(), reg, nil); !errors.Is(err, ErrNilSource) {
		t.Errorf("nil source err = %v", err)
	}
	src := testSource(ncptest.New(), []uint16{0}, nil)
	if _, err := New(src, nil, reg, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("nil device err = %v", err)
	}
}

func TestNewBuildsHandlers(t *testing.T) {
	dev := newFakeDevice()
	probe := &recordingProbe{}
	src := testSource(ncptest.New(),
		[]uint16{zcl.ClusterBasic, zcl.ClusterPowerConfiguration, zcl.ClusterIdentify, zcl.ClusterOnOff, 0xFC00},
		[]uint16{zcl.ClusterOTA, zcl.ClusterGroups})

	ep, err := New(src, dev, handlers.DefaultRegistry(), probe)
	if err != nil {
		t.Fatal(err)
	}

	if ep.UniqueID() != "00158D00012A3B4C-1" {
		t.Errorf("UniqueID = %q", ep.UniqueID())
	}
	if n := len(ep.AllHandlers()); n != 5 {
		t.Errorf("server handlers = %d, want 5", n)
	}
	// Groups has no client constructor.
	clients := ep.ClientHandlers()
	if len(clients) != 1 || clients["00158D00012A3B4C-1:0x0019"] == nil {
		t.Errorf("client handlers = %v", clients)
	}
	if dev.basic == nil || dev.power == nil || dev.identify == nil {
		t.Errorf("device slots basic=%v power=%v identify=%v", dev.basic, dev.power, dev.identify)
	}
	if dev.power.ClusterID() != zcl.ClusterPowerConfiguration {
		t.Errorf("power slot holds cluster 0x%04X", dev.power.ClusterID())
	}
	if probe.calls != 1 {
		t.Errorf("probe calls = %d, want 1", probe.calls)
	}
}

func TestCoordinatorSkipsDiscovery(t *testing.T) {
	dev := newFakeDevice()
	dev.coordinator = true
	probe := &recordingProbe{claim: []uint16{zcl.ClusterOnOff}}
	src := testSource(ncptest.New(), []uint16{zcl.ClusterBasic, zcl.ClusterOnOff}, nil)

	ep, err := New(src, dev, handlers.DefaultRegistry(), probe)
	if err != nil {
		t.Fatal(err)
	}
	if probe.calls != 0 {
		t.Errorf("probe called %d times for coordinator", probe.calls)
	}
	if n := len(ep.ClaimedHandlers()); n != 0 {
		t.Errorf("claimed = %d, want 0", n)
	}
	// Slots are still filled for the coordinator's own basic cluster.
	if dev.basic == nil {
		t.Error("basic slot not set")
	}
}

func TestOverrideAppliedOnConstruction(t *testing.T) {
	cat := zcl.NewStandardCatalog(testLogger())
	src := zigbee.NewEndpoint(ncptest.New(), cat, [8]byte{1}, 1, ncp.SimpleDescriptor{
		Endpoint:   2,
		InClusters: []uint16{zcl.ClusterDoorLock},
	}, map[uint16]string{zcl.ClusterDoorLock: "multistate_input"})

	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := ep.ServerHandler(zcl.ClusterDoorLock)
	if !ok {
		t.Fatal("door lock handler missing")
	}
	if _, ok := h.(*handlers.MultistateInput); !ok {
		t.Errorf("handler = %T, want *handlers.MultistateInput", h)
	}
}

func TestClaimAndUnclaimed(t *testing.T) {
	src := testSource(ncptest.New(), []uint16{zcl.ClusterBasic, zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterTemperature}, nil)
	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}

	onoff, _ := ep.ServerHandler(zcl.ClusterOnOff)
	level, _ := ep.ServerHandler(zcl.ClusterLevelControl)

	steps := [][]handlers.ClusterHandler{
		{onoff},
		{onoff}, // idempotent
		{level, onoff},
	}
	for i, claim := range steps {
		ep.Claim(claim...)

		claimed := ep.ClaimedHandlers()
		unclaimed := ep.Unclaimed()
		if len(claimed)+len(unclaimed) != len(ep.AllHandlers()) {
			t.Fatalf("step %d: claimed %d + unclaimed %d != all %d", i, len(claimed), len(unclaimed), len(ep.AllHandlers()))
		}
		for _, h := range unclaimed {
			if _, ok := claimed[h.ID()]; ok {
				t.Errorf("step %d: %s both claimed and unclaimed", i, h.ID())
			}
		}
	}

	want := []string{onoff.ID(), level.ID()}
	sort.Strings(want)
	if got := sortedIDs(ep.ClaimedHandlers()); !equalStrings(got, want) {
		t.Errorf("claimed = %v, want %v", got, want)
	}
}

func TestConcurrentClaimsAndStages(t *testing.T) {
	f := ncptest.New()
	src := testSource(f, []uint16{zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterTemperature, zcl.ClusterHumidity}, nil)
	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, h := range ep.AllHandlers() {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ep.Claim(h)
		}()
		go func() {
			defer wg.Done()
			ep.Configure(context.Background())
		}()
	}
	wg.Wait()
	if len(ep.Unclaimed()) != 0 {
		t.Errorf("unclaimed = %d after claiming all", len(ep.Unclaimed()))
	}
}

func TestSignature(t *testing.T) {
	src := testSource(ncptest.New(), []uint16{zcl.ClusterMultistateInput, zcl.ClusterBasic}, []uint16{zcl.ClusterOTA})
	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}

	sig := ep.Signature()
	want := Signature{ID: 1, Data: SignatureData{
		ProfileID:      "0x0104",
		DeviceType:     "0x0051",
		InputClusters:  []string{"0x0000", "0x0012"},
		OutputClusters: []string{"0x0019"},
	}}
	if sig.ID != want.ID || sig.Data.ProfileID != want.Data.ProfileID || sig.Data.DeviceType != want.Data.DeviceType {
		t.Errorf("signature = %+v", sig)
	}
	if !equalStrings(sig.Data.InputClusters, want.Data.InputClusters) || !equalStrings(sig.Data.OutputClusters, want.Data.OutputClusters) {
		t.Errorf("clusters = %v / %v", sig.Data.InputClusters, sig.Data.OutputClusters)
	}

	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatal(err)
	}
	const wantJSON = `[1,{"profile_id":"0x0104","device_type":"0x0051","input_clusters":["0x0000","0x0012"],"output_clusters":["0x0019"]}]`
	if string(data) != wantJSON {
		t.Errorf("json = %s\nwant   %s", data, wantJSON)
	}

	var back Signature
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != 1 || back.Data.DeviceType != "0x0051" {
		t.Errorf("decoded = %+v", back)
	}
}

func TestSignatureMissingFields(t *testing.T) {
	cat := zcl.NewStandardCatalog(testLogger())
	src := zigbee.NewEndpoint(ncptest.New(), cat, [8]byte{}, 1, ncp.SimpleDescriptor{Endpoint: 3}, nil)
	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(ep.Signature())
	const want = `[3,{"profile_id":"","device_type":"","input_clusters":[],"output_clusters":[]}]`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestRequestEntityGate(t *testing.T) {
	dev := newFakeDevice()
	src := testSource(ncptest.New(), []uint16{zcl.ClusterOnOff}, nil)
	ep, err := New(src, dev, handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := ep.ServerHandler(zcl.ClusterOnOff)

	ep.RequestEntity("switch", EntityDescriptor{Name: "Switch", Attr: "OnOff"}, ep.UniqueID()+"-switch", []handlers.ClusterHandler{h})
	if dev.entities.Len() != 1 {
		t.Fatalf("buffer len = %d, want 1", dev.entities.Len())
	}

	dev.status = StatusInitialized
	ep.RequestEntity("switch", EntityDescriptor{Name: "Again"}, ep.UniqueID()+"-again", nil)
	if dev.entities.Len() != 1 {
		t.Errorf("buffer changed after initialization: len = %d", dev.entities.Len())
	}

	drained := dev.entities.Drain()
	reqs := drained["switch"]
	if len(reqs) != 1 || reqs[0].DeviceIEEE != "00158D00012A3B4C" || reqs[0].EndpointID != 1 || len(reqs[0].Handlers) != 1 {
		t.Errorf("drained = %+v", drained)
	}
	if dev.entities.Len() != 0 {
		t.Error("buffer not empty after drain")
	}
}

func TestSignalsAndEvents(t *testing.T) {
	dev := newFakeDevice()
	src := testSource(ncptest.New(), nil, nil)
	ep, err := New(src, dev, handlers.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}

	ep.SendSignal("attribute_updated", 6, true)
	payload := map[string]any{"command": "single"}
	ep.EmitEvent(payload)

	if len(dev.signals) != 1 || dev.signals[0] != "attribute_updated" {
		t.Errorf("signals = %v", dev.signals)
	}
	if len(dev.events) != 1 {
		t.Fatalf("events = %d", len(dev.events))
	}
	ev := dev.events[0]
	if ev["unique_id"] != "00158D00012A3B4C-1" || ev["endpoint_id"] != uint8(1) || ev["command"] != "single" {
		t.Errorf("event = %v", ev)
	}
	if _, ok := payload["unique_id"]; ok {
		t.Error("caller payload was modified")
	}

	ep.EmitEvent(map[string]any{"unique_id": "custom", "endpoint_id": 9})
	ev = dev.events[1]
	if ev["unique_id"] != "custom" || ev["endpoint_id"] != 9 {
		t.Errorf("payload keys must win, event = %v", ev)
	}
}

func TestLifecycleRunsClaimedAndClients(t *testing.T) {
	f := ncptest.New()
	src := testSource(f, []uint16{zcl.ClusterOnOff, zcl.ClusterTemperature}, []uint16{zcl.ClusterScenes})
	probe := &recordingProbe{claim: []uint16{zcl.ClusterOnOff}}
	ep, err := New(src, newFakeDevice(), handlers.DefaultRegistry(), probe)
	if err != nil {
		t.Fatal(err)
	}

	ep.Configure(context.Background())

	bound := map[uint16]bool{}
	for _, c := range f.CallsFor("bind") {
		bound[c.ClusterID] = true
	}
	if !bound[zcl.ClusterOnOff] || !bound[zcl.ClusterScenes] {
		t.Errorf("bound = %v, want on_off and scenes client", bound)
	}
	if bound[zcl.ClusterTemperature] {
		t.Error("unclaimed temperature handler was configured")
	}
}

func sortedIDs(m map[string]handlers.ClusterHandler) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
