// Package endpoint models one Zigbee endpoint of a device: the handlers built
// for its clusters, which of them are claimed by entities, and the concurrent
// initialize and configure stages.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/zigbee"
)

var (
	ErrNilSource = errors.New("endpoint: nil cluster source")
	ErrNilDevice = errors.New("endpoint: nil device")
)

// Endpoint owns the handlers of one device endpoint.
//
// all and client are populated by New and read-only afterwards. claimed only
// grows and is guarded by mu.
type Endpoint struct {
	src      *zigbee.Endpoint
	dev      Device
	uniqueID string
	logger   *slog.Logger

	all    map[string]handlers.ClusterHandler
	client map[string]handlers.ClusterHandler

	mu      sync.RWMutex
	claimed map[string]handlers.ClusterHandler
}

// New builds the handlers for every cluster of src and, unless dev is the
// coordinator, lets probe claim handlers and request entities.
func New(src *zigbee.Endpoint, dev Device, reg *handlers.Registry, probe Probe) (*Endpoint, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if dev == nil {
		return nil, ErrNilDevice
	}

	uniqueID := fmt.Sprintf("%s-%d", dev.IEEE(), src.ID)
	ep := &Endpoint{
		src:      src,
		dev:      dev,
		uniqueID: uniqueID,
		logger:   dev.Logger().With("endpoint_id", src.ID),
		all:      make(map[string]handlers.ClusterHandler, len(src.InClusters)),
		client:   make(map[string]handlers.ClusterHandler),
		claimed:  make(map[string]handlers.ClusterHandler),
	}

	for _, c := range src.InClusters {
		h := reg.LookupServer(c, ep)(c, ep)
		ep.all[h.ID()] = h

		switch h.Name() {
		case handlers.NamePower:
			dev.SetPowerConfigurationHandler(h)
		case handlers.NameIdentify:
			dev.SetIdentifyHandler(h)
		case handlers.NameBasic:
			dev.SetBasicHandler(h)
		}
	}

	clients := reg.ClientTable()
	for id, c := range src.OutClusters {
		newClient, ok := clients[id]
		if !ok {
			continue
		}
		h := newClient(c, ep)
		ep.client[h.ID()] = h
	}

	if !dev.IsCoordinator() && probe != nil {
		probe.DiscoverEntities(ep)
	}
	return ep, nil
}

func (e *Endpoint) ID() uint8                { return e.src.ID }
func (e *Endpoint) UniqueID() string         { return e.uniqueID }
func (e *Endpoint) Device() Device           { return e.dev }
func (e *Endpoint) Source() *zigbee.Endpoint { return e.src }
func (e *Endpoint) Logger() *slog.Logger     { return e.logger }
func (e *Endpoint) CoordinatorIEEE() [8]byte { return e.dev.CoordinatorIEEE() }

// AllHandlers returns the server handlers keyed by handler id.
func (e *Endpoint) AllHandlers() map[string]handlers.ClusterHandler {
	return copyHandlers(e.all)
}

// ClientHandlers returns the client handlers keyed by handler id.
func (e *Endpoint) ClientHandlers() map[string]handlers.ClusterHandler {
	return copyHandlers(e.client)
}

// ClaimedHandlers returns the claimed server handlers keyed by handler id.
func (e *Endpoint) ClaimedHandlers() map[string]handlers.ClusterHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyHandlers(e.claimed)
}

// ServerHandler returns the server handler for a cluster id.
func (e *Endpoint) ServerHandler(clusterID uint16) (handlers.ClusterHandler, bool) {
	h, ok := e.all[handlers.HandlerID(e.uniqueID, clusterID)]
	return h, ok
}

// Claim marks handlers as used by an entity. Claiming twice is a no-op.
func (e *Endpoint) Claim(hs ...handlers.ClusterHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range hs {
		e.claimed[h.ID()] = h
	}
}

// Unclaimed returns the server handlers no entity has claimed, in no
// particular order.
func (e *Endpoint) Unclaimed() []handlers.ClusterHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]handlers.ClusterHandler, 0, len(e.all))
	for id, h := range e.all {
		if _, ok := e.claimed[id]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// Initialize runs the initialize stage on the claimed and client handlers.
func (e *Endpoint) Initialize(ctx context.Context, fromCache bool) {
	runStage(ctx, "initialize", e.lifecycleHandlers(), func(ctx context.Context, h handlers.ClusterHandler) error {
		return h.Initialize(ctx, fromCache)
	})
}

// Configure runs the configure stage on the claimed and client handlers.
func (e *Endpoint) Configure(ctx context.Context) {
	runStage(ctx, "configure", e.lifecycleHandlers(), func(ctx context.Context, h handlers.ClusterHandler) error {
		return h.Configure(ctx)
	})
}

// lifecycleHandlers snapshots claimed ∪ client. Unclaimed server handlers
// stay dormant. A claim made after the snapshot applies to the next stage.
func (e *Endpoint) lifecycleHandlers() []handlers.ClusterHandler {
	e.mu.RLock()
	out := make([]handlers.ClusterHandler, 0, len(e.claimed)+len(e.client))
	for _, h := range e.claimed {
		out = append(out, h)
	}
	e.mu.RUnlock()
	for _, h := range e.client {
		out = append(out, h)
	}
	return out
}

func copyHandlers(m map[string]handlers.ClusterHandler) map[string]handlers.ClusterHandler {
	out := make(map[string]handlers.ClusterHandler, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
