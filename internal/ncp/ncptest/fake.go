// Package ncptest provides an in-memory NCP for tests.
package ncptest

import (
	"context"
	"sync"

	"zigbee-endpoints/internal/ncp"
)

// Call is one recorded backend request.
type Call struct {
	Op        string
	ClusterID uint16
	Endpoint  uint8
	Req       any
}

// Fake implements ncp.NCP. Attribute reads are answered from Attrs; ops listed
// in Errs fail with the given error.
type Fake struct {
	mu sync.Mutex

	LocalIEEE   [8]byte
	Endpoints   map[uint16][]uint8
	Descriptors map[uint16]map[uint8]*ncp.SimpleDescriptor
	// Attrs maps cluster id -> attribute id -> response.
	Attrs map[uint16]map[uint16]ncp.AttributeResponse
	// Errs maps op name ("bind", "read_attributes", ...) to a forced error.
	Errs map[string]error
	// ClusterErrs fails every op against one cluster id.
	ClusterErrs map[uint16]error

	calls    []Call
	onAnn    []func(ncp.DeviceAnnounceEvent)
	onLeft   []func(ncp.DeviceLeftEvent)
	onReport []func(ncp.AttributeReportEvent)
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Endpoints:   make(map[uint16][]uint8),
		Descriptors: make(map[uint16]map[uint8]*ncp.SimpleDescriptor),
		Attrs:       make(map[uint16]map[uint16]ncp.AttributeResponse),
		Errs:        make(map[string]error),
		ClusterErrs: make(map[uint16]error),
	}
}

// SetAttr makes reads of the attribute succeed with the given encoded value.
func (f *Fake) SetAttr(cluster, attr uint16, dataType uint8, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Attrs[cluster] == nil {
		f.Attrs[cluster] = make(map[uint16]ncp.AttributeResponse)
	}
	f.Attrs[cluster][attr] = ncp.AttributeResponse{AttrID: attr, DataType: dataType, Value: value}
}

// AddDevice registers the descriptors answered for a short address.
func (f *Fake) AddDevice(nwk uint16, sds ...ncp.SimpleDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Descriptors[nwk] = make(map[uint8]*ncp.SimpleDescriptor)
	f.Endpoints[nwk] = nil
	for i := range sds {
		sd := sds[i]
		f.Descriptors[nwk][sd.Endpoint] = &sd
		f.Endpoints[nwk] = append(f.Endpoints[nwk], sd.Endpoint)
	}
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the recorded calls for one op.
func (f *Fake) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(op string, cluster uint16, ep uint8, req any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, ClusterID: cluster, Endpoint: ep, Req: req})
	if err := f.ClusterErrs[cluster]; err != nil && op != "permit_join" && op != "local_ieee" {
		return err
	}
	return f.Errs[op]
}

func (f *Fake) PermitJoin(_ context.Context, duration uint8) error {
	return f.record("permit_join", 0xFFFF, 0, duration)
}

func (f *Fake) GetLocalIEEE(context.Context) ([8]byte, error) {
	if err := f.record("local_ieee", 0xFFFF, 0, nil); err != nil {
		return [8]byte{}, err
	}
	return f.LocalIEEE, nil
}

func (f *Fake) ActiveEndpoints(_ context.Context, shortAddr uint16) ([]uint8, error) {
	if err := f.record("active_endpoints", 0xFFFF, 0, shortAddr); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint8(nil), f.Endpoints[shortAddr]...), nil
}

func (f *Fake) SimpleDescriptor(_ context.Context, shortAddr uint16, endpoint uint8) (*ncp.SimpleDescriptor, error) {
	if err := f.record("simple_descriptor", 0xFFFF, endpoint, shortAddr); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sd := f.Descriptors[shortAddr][endpoint]
	if sd == nil {
		return nil, &ncp.RemoteError{Op: "simple_descriptor", Message: "no descriptor"}
	}
	cp := *sd
	return &cp, nil
}

func (f *Fake) Bind(_ context.Context, req ncp.BindRequest) error {
	return f.record("bind", req.ClusterID, req.SrcEP, req)
}

func (f *Fake) ReadAttributes(_ context.Context, req ncp.ReadAttributesRequest) ([]ncp.AttributeResponse, error) {
	if err := f.record("read_attributes", req.ClusterID, req.DstEP, req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ncp.AttributeResponse, 0, len(req.AttrIDs))
	for _, id := range req.AttrIDs {
		if r, ok := f.Attrs[req.ClusterID][id]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, ncp.AttributeResponse{AttrID: id, Status: 0x86})
	}
	return out, nil
}

func (f *Fake) WriteAttributes(_ context.Context, req ncp.WriteAttributesRequest) error {
	return f.record("write_attributes", req.ClusterID, req.DstEP, req)
}

func (f *Fake) SendCommand(_ context.Context, req ncp.ClusterCommandRequest) error {
	return f.record("command", req.ClusterID, req.DstEP, req)
}

func (f *Fake) ConfigureReporting(_ context.Context, req ncp.ConfigureReportingRequest) error {
	return f.record("configure_reporting", req.ClusterID, req.DstEP, req)
}

func (f *Fake) OnDeviceAnnounce(h func(ncp.DeviceAnnounceEvent)) {
	f.mu.Lock()
	f.onAnn = append(f.onAnn, h)
	f.mu.Unlock()
}

func (f *Fake) OnDeviceLeft(h func(ncp.DeviceLeftEvent)) {
	f.mu.Lock()
	f.onLeft = append(f.onLeft, h)
	f.mu.Unlock()
}

func (f *Fake) OnAttributeReport(h func(ncp.AttributeReportEvent)) {
	f.mu.Lock()
	f.onReport = append(f.onReport, h)
	f.mu.Unlock()
}

// Announce delivers a device announce to registered handlers.
func (f *Fake) Announce(evt ncp.DeviceAnnounceEvent) {
	f.mu.Lock()
	hs := append([]func(ncp.DeviceAnnounceEvent){}, f.onAnn...)
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

// Leave delivers a device left indication.
func (f *Fake) Leave(evt ncp.DeviceLeftEvent) {
	f.mu.Lock()
	hs := append([]func(ncp.DeviceLeftEvent){}, f.onLeft...)
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

// Report delivers an attribute report.
func (f *Fake) Report(evt ncp.AttributeReportEvent) {
	f.mu.Lock()
	hs := append([]func(ncp.AttributeReportEvent){}, f.onReport...)
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (f *Fake) Close() error { return nil }
