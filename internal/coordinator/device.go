package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"zigbee-endpoints/internal/endpoint"
	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/store"
	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

// Device is a live device: its endpoints with their handlers. It is rebuilt
// from the store record whenever the device is (re)initialized.
type Device struct {
	ieee          string
	ieeeBytes     [8]byte
	isCoordinator bool
	coordIEEE     [8]byte
	manufacturer  string
	model         string
	name          string
	logger        *slog.Logger
	events        *EventBus
	entities      *endpoint.EntityBuffer

	mu        sync.RWMutex
	nwk       uint16
	status    endpoint.Status
	power     handlers.ClusterHandler
	identify  handlers.ClusterHandler
	basic     handlers.ClusterHandler
	endpoints map[uint8]*endpoint.Endpoint
	// discovered holds the entity requests published for this device.
	discovered *EntitiesDiscovered
}

// deviceDeps are the shared collaborators a Device is built with.
type deviceDeps struct {
	backend   ncp.NCP
	catalog   *zcl.Catalog
	registry  *handlers.Registry
	probe     endpoint.Probe
	events    *EventBus
	coordIEEE [8]byte
	logger    *slog.Logger
}

// newDevice builds a Device and its endpoints from a store record. def may
// be nil.
func newDevice(rec *store.Device, def *DeviceDefinition, deps deviceDeps) (*Device, error) {
	ieeeBytes, err := ParseIEEE(rec.IEEEAddress)
	if err != nil {
		return nil, err
	}
	d := &Device{
		ieee:          rec.IEEEAddress,
		ieeeBytes:     ieeeBytes,
		isCoordinator: rec.IsCoordinator,
		coordIEEE:     deps.coordIEEE,
		manufacturer:  rec.Manufacturer,
		model:         rec.Model,
		name:          deviceName(rec),
		events:        deps.events,
		entities:      endpoint.NewEntityBuffer(),
		nwk:           rec.ShortAddress,
		endpoints:     make(map[uint8]*endpoint.Endpoint, len(rec.Endpoints)),
	}
	d.logger = deps.logger.With("ieee", d.ieee, "name", d.name)

	for _, epRec := range rec.Endpoints {
		if epRec.ID == 0 {
			continue // ZDO
		}
		sd := ncp.SimpleDescriptor{
			Endpoint:    epRec.ID,
			ProfileID:   epRec.ProfileID,
			DeviceID:    epRec.DeviceID,
			InClusters:  epRec.InClusters,
			OutClusters: epRec.OutClusters,
		}
		var overrides map[uint16]string
		if def != nil {
			overrides = def.EpAttributes(epRec.ID)
		}
		src := zigbee.NewEndpoint(deps.backend, deps.catalog, ieeeBytes, rec.ShortAddress, sd, overrides)
		ep, err := endpoint.New(src, d, deps.registry, deps.probe)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", epRec.ID, err)
		}
		d.endpoints[epRec.ID] = ep
	}
	return d, nil
}

func (d *Device) IEEE() string             { return d.ieee }
func (d *Device) IEEEBytes() [8]byte       { return d.ieeeBytes }
func (d *Device) IsCoordinator() bool      { return d.isCoordinator }
func (d *Device) CoordinatorIEEE() [8]byte { return d.coordIEEE }
func (d *Device) Logger() *slog.Logger     { return d.logger }
func (d *Device) Entities() *endpoint.EntityBuffer {
	return d.entities
}
func (d *Device) Name() string { return d.name }

// Manufacturer returns the manufacturer from the interview, or the one the
// basic handler has cached.
func (d *Device) Manufacturer() string {
	if d.manufacturer != "" {
		return d.manufacturer
	}
	if b, ok := d.BasicHandler().(*handlers.Basic); ok {
		return b.Manufacturer()
	}
	return ""
}

// Model returns the model from the interview, or the one the basic handler
// has cached.
func (d *Device) Model() string {
	if d.model != "" {
		return d.model
	}
	if b, ok := d.BasicHandler().(*handlers.Basic); ok {
		return b.Model()
	}
	return ""
}

// BatteryPercent returns the last known battery level of a device with a
// power configuration cluster.
func (d *Device) BatteryPercent() (float64, bool) {
	p, ok := d.PowerConfigurationHandler().(*handlers.PowerConfiguration)
	if !ok {
		return 0, false
	}
	return p.BatteryPercent()
}

func (d *Device) Status() endpoint.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Device) markInitialized() {
	d.mu.Lock()
	d.status = endpoint.StatusInitialized
	d.mu.Unlock()
}

func (d *Device) NWK() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nwk
}

func (d *Device) SetPowerConfigurationHandler(h handlers.ClusterHandler) {
	d.mu.Lock()
	d.power = h
	d.mu.Unlock()
}

func (d *Device) SetIdentifyHandler(h handlers.ClusterHandler) {
	d.mu.Lock()
	d.identify = h
	d.mu.Unlock()
}

func (d *Device) SetBasicHandler(h handlers.ClusterHandler) {
	d.mu.Lock()
	d.basic = h
	d.mu.Unlock()
}

// PowerConfigurationHandler returns the power configuration handler, or nil.
func (d *Device) PowerConfigurationHandler() handlers.ClusterHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.power
}

// IdentifyHandler returns the identify handler, or nil.
func (d *Device) IdentifyHandler() handlers.ClusterHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identify
}

// BasicHandler returns the basic handler, or nil.
func (d *Device) BasicHandler() handlers.ClusterHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.basic
}

// Discovered returns the entities published when the device was set up.
func (d *Device) Discovered() (EntitiesDiscovered, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.discovered == nil {
		return EntitiesDiscovered{}, false
	}
	return *d.discovered, true
}

func (d *Device) setDiscovered(ed EntitiesDiscovered) {
	d.mu.Lock()
	d.discovered = &ed
	d.mu.Unlock()
}

// Endpoint returns the endpoint with the given id.
func (d *Device) Endpoint(id uint8) (*endpoint.Endpoint, bool) {
	ep, ok := d.endpoints[id]
	return ep, ok
}

// Endpoints returns the endpoints ordered by id.
func (d *Device) Endpoints() []*endpoint.Endpoint {
	out := make([]*endpoint.Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Dispatch publishes a device signal on the event bus.
func (d *Device) Dispatch(signal string, args ...any) {
	d.events.Emit(Event{Type: EventSignal, Data: map[string]any{
		"ieee":   d.ieee,
		"signal": signal,
		"args":   args,
	}})
}

// SendEvent publishes an endpoint event as a zha_event.
func (d *Device) SendEvent(payload map[string]any) {
	data := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		data[k] = v
	}
	data["ieee"] = d.ieee
	data["device_name"] = d.name
	d.events.Emit(Event{Type: EventZHA, Data: data})
}

// Configure runs the configure stage on every endpoint concurrently.
func (d *Device) Configure(ctx context.Context) {
	d.logger.Info("configuring device", "endpoints", len(d.endpoints))
	d.eachEndpoint(func(ep *endpoint.Endpoint) { ep.Configure(ctx) })
}

// Initialize runs the initialize stage on every endpoint concurrently.
func (d *Device) Initialize(ctx context.Context, fromCache bool) {
	d.logger.Info("initializing device", "from_cache", fromCache)
	d.eachEndpoint(func(ep *endpoint.Endpoint) { ep.Initialize(ctx, fromCache) })
}

func (d *Device) eachEndpoint(fn func(*endpoint.Endpoint)) {
	var g errgroup.Group
	for _, ep := range d.endpoints {
		g.Go(func() error {
			fn(ep)
			return nil
		})
	}
	_ = g.Wait()
}
