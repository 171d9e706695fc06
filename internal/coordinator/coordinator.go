package coordinator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zigbee-endpoints/internal/endpoint"
	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/store"
	"zigbee-endpoints/internal/zcl"
)

// ParseIEEE parses "DD:DD:DD:DD:DD:DD:DD:DD" or "DDDDDDDDDDDDDDDD" into [8]byte.
func ParseIEEE(s string) ([8]byte, error) {
	var result [8]byte
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return result, fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return result, fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	copy(result[:], b)
	return result, nil
}

// Options are the collaborators of a Coordinator. Registry, Probe and
// DeviceDB default to the built-in handler registry, no entity discovery and
// the built-in device quirks.
type Options struct {
	Backend  ncp.NCP
	Store    store.Store
	Catalog  *zcl.Catalog
	Registry *handlers.Registry
	Probe    endpoint.Probe
	DeviceDB *DeviceDB
	Events   *EventBus
	Logger   *slog.Logger
}

// Coordinator owns the network: it reacts to backend indications and keeps
// the live devices with their endpoints.
type Coordinator struct {
	ncp        ncp.NCP
	store      store.Store
	catalog    *zcl.Catalog
	registry   *handlers.Registry
	probe      endpoint.Probe
	deviceDB   *DeviceDB
	events     *EventBus
	devices    *DeviceManager
	logger     *slog.Logger
	localIEEE  [8]byte // coordinator's own IEEE address, cached at Start
	self       *Device
	retryDelay time.Duration
	// restoreTimeout bounds the setup of one restored device.
	restoreTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

// New creates a new Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Backend == nil || opts.Store == nil || opts.Catalog == nil {
		return nil, errors.New("coordinator: backend, store and catalog are required")
	}
	if opts.Registry == nil {
		opts.Registry = handlers.DefaultRegistry()
	}
	if opts.DeviceDB == nil {
		opts.DeviceDB = NewDeviceDB()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(opts.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ncp:            opts.Backend,
		store:          opts.Store,
		catalog:        opts.Catalog,
		registry:       opts.Registry,
		probe:          opts.Probe,
		deviceDB:       opts.DeviceDB,
		events:         opts.Events,
		logger:         opts.Logger,
		retryDelay:     5 * time.Second,
		restoreTimeout: 30 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
	c.devices = NewDeviceManager(c)
	c.registerIndicationHandlers()
	return c, nil
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start reads the coordinator identity from the backend and restores the
// known devices.
func (c *Coordinator) Start(ctx context.Context) error {
	ieee, err := c.ncp.GetLocalIEEE(ctx)
	if err != nil {
		return fmt.Errorf("get coordinator ieee: %w", err)
	}
	c.localIEEE = ieee
	c.logger.Info("coordinator IEEE", "ieee", fmt.Sprintf("%016X", ieee))

	if err := c.setupSelf(ctx); err != nil {
		c.logger.Warn("coordinator device", "err", err)
	}

	c.devices.Restore()
	c.events.Emit(Event{Type: EventNetworkState, Data: "started"})
	return nil
}

// setupSelf records the coordinator as a device of its own so its endpoints
// can be listed. Handlers are built for it but no entities are discovered.
func (c *Coordinator) setupSelf(ctx context.Context) error {
	ieee := fmt.Sprintf("%016X", c.localIEEE)
	rec, err := c.store.GetDevice(ieee)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rec = &store.Device{IEEEAddress: ieee, JoinedAt: time.Now()}
	}
	rec.IsCoordinator = true
	rec.ShortAddress = 0x0000
	rec.Interviewed = true
	rec.LastSeen = time.Now()
	if rec.FriendlyName == "" {
		rec.FriendlyName = "Coordinator"
	}

	eps, err := c.ncp.ActiveEndpoints(ctx, 0x0000)
	if err != nil {
		c.logger.Warn("coordinator endpoints", "err", err)
	} else {
		rec.Endpoints = rec.Endpoints[:0]
		for _, ep := range eps {
			sd, err := c.ncp.SimpleDescriptor(ctx, 0x0000, ep)
			if err != nil {
				continue
			}
			rec.Endpoints = append(rec.Endpoints, store.Endpoint{
				ID:          ep,
				ProfileID:   sd.ProfileID,
				DeviceID:    sd.DeviceID,
				InClusters:  sd.InClusters,
				OutClusters: sd.OutClusters,
			})
		}
	}
	if err := c.store.SaveDevice(rec); err != nil {
		return fmt.Errorf("save coordinator: %w", err)
	}

	self, err := newDevice(rec, nil, c.deviceDeps())
	if err != nil {
		return err
	}
	self.markInitialized()
	c.self = self
	return nil
}

// LocalIEEE returns the coordinator's own IEEE address.
func (c *Coordinator) LocalIEEE() [8]byte {
	return c.localIEEE
}

// Self returns the coordinator's own device, or nil before Start.
func (c *Coordinator) Self() *Device {
	return c.self
}

// Stop cancels the coordinator context and waits for in-progress interviews.
func (c *Coordinator) Stop() {
	c.cancel()
	c.devices.CancelAllInterviews()
}

// PermitJoin opens or closes the network for device joining.
func (c *Coordinator) PermitJoin(ctx context.Context, duration uint8) error {
	if err := c.ncp.PermitJoin(ctx, duration); err != nil {
		return fmt.Errorf("permit join: %w", err)
	}
	c.logger.Info("permit join", "duration", duration)
	c.events.Emit(Event{Type: EventPermitJoin, Data: map[string]interface{}{"duration": duration}})
	return nil
}

// NetworkInfo returns a summary of the network.
func (c *Coordinator) NetworkInfo() map[string]interface{} {
	return map[string]interface{}{
		"coordinator_ieee": fmt.Sprintf("%016X", c.localIEEE),
		"devices":          len(c.devices.Devices()),
		"clusters":         len(c.catalog.All()),
	}
}

// NCP returns the underlying NCP backend.
func (c *Coordinator) NCP() ncp.NCP {
	return c.ncp
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Catalog returns the ZCL cluster catalog.
func (c *Coordinator) Catalog() *zcl.Catalog {
	return c.catalog
}

// DeviceDB returns the device definitions database.
func (c *Coordinator) DeviceDB() *DeviceDB {
	return c.deviceDB
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

func (c *Coordinator) deviceDeps() deviceDeps {
	return deviceDeps{
		backend:   c.ncp,
		catalog:   c.catalog,
		registry:  c.registry,
		probe:     c.probe,
		events:    c.events,
		coordIEEE: c.localIEEE,
		logger:    c.logger.With("component", "device"),
	}
}

func (c *Coordinator) registerIndicationHandlers() {
	c.ncp.OnDeviceLeft(func(evt ncp.DeviceLeftEvent) {
		c.devices.HandleLeave(evt)
	})
	c.ncp.OnDeviceAnnounce(func(evt ncp.DeviceAnnounceEvent) {
		c.devices.HandleAnnounce(evt)
	})
	c.ncp.OnAttributeReport(func(evt ncp.AttributeReportEvent) {
		c.devices.HandleAttributeReport(evt)
	})
}
