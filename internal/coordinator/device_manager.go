package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/store"
	"zigbee-endpoints/internal/zcl"
)

// ErrDeviceNotReady is returned for operations on a device that has not
// finished initialization.
var ErrDeviceNotReady = errors.New("device not initialized")

type interviewEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// DeviceManager handles device lifecycle: announce, interview, endpoint setup,
// attribute reports and leave.
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger

	interviewMu      sync.Mutex
	interviewCancels map[string]interviewEntry
	interviewGen     atomic.Uint64
	interviewWg      sync.WaitGroup

	// Debounce duplicate announce events.
	lastAnnMu sync.Mutex
	lastAnn   map[string]time.Time

	// In-memory short address -> IEEE index for fast lookup.
	addrMu    sync.RWMutex
	addrIndex map[uint16]string

	liveMu sync.RWMutex
	live   map[string]*Device
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:            coord,
		logger:           coord.logger.With("component", "device_manager"),
		interviewCancels: make(map[string]interviewEntry),
		lastAnn:          make(map[string]time.Time),
		addrIndex:        make(map[uint16]string),
		live:             make(map[string]*Device),
	}
}

// CancelAllInterviews cancels all running interview goroutines and waits for them.
func (dm *DeviceManager) CancelAllInterviews() {
	dm.interviewMu.Lock()
	for ieee, entry := range dm.interviewCancels {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
	dm.interviewWg.Wait()
}

func (dm *DeviceManager) cancelInterview(ieee string) {
	dm.interviewMu.Lock()
	if entry, ok := dm.interviewCancels[ieee]; ok {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
}

func (dm *DeviceManager) updateAddrIndex(ieee string, shortAddr uint16) {
	dm.addrMu.Lock()
	dm.addrIndex[shortAddr] = ieee
	dm.addrMu.Unlock()
}

func (dm *DeviceManager) removeFromAddrIndex(ieee string) {
	dm.addrMu.Lock()
	for addr, storedIEEE := range dm.addrIndex {
		if storedIEEE == ieee {
			delete(dm.addrIndex, addr)
		}
	}
	dm.addrMu.Unlock()
}

// lookupIEEE finds the IEEE address for a short address, rebuilding the
// index from the store on a miss.
func (dm *DeviceManager) lookupIEEE(shortAddr uint16) string {
	dm.addrMu.RLock()
	ieee := dm.addrIndex[shortAddr]
	dm.addrMu.RUnlock()
	if ieee != "" {
		return ieee
	}

	dm.addrMu.Lock()
	defer dm.addrMu.Unlock()
	if ieee = dm.addrIndex[shortAddr]; ieee != "" {
		return ieee
	}
	devices, err := dm.coord.Store().ListDevices()
	if err != nil {
		dm.logger.Error("rebuild addr index for lookup", "err", err)
		return ""
	}
	clear(dm.addrIndex)
	for _, d := range devices {
		dm.addrIndex[d.ShortAddress] = d.IEEEAddress
		if d.ShortAddress == shortAddr {
			ieee = d.IEEEAddress
		}
	}
	return ieee
}

// deviceName returns a human-readable display name for a device.
// Returns "Manufacturer Model" if available, or empty string for unknown devices.
func deviceName(dev *store.Device) string {
	if dev == nil {
		return ""
	}
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	name := dev.Manufacturer
	if dev.Model != "" {
		if name != "" {
			name += " "
		}
		name += dev.Model
	}
	return name
}

// Device returns the live device with the given IEEE address.
func (dm *DeviceManager) Device(ieee string) (*Device, bool) {
	dm.liveMu.RLock()
	defer dm.liveMu.RUnlock()
	d, ok := dm.live[ieee]
	return d, ok
}

// Devices returns all live devices ordered by IEEE address.
func (dm *DeviceManager) Devices() []*Device {
	dm.liveMu.RLock()
	out := make([]*Device, 0, len(dm.live))
	for _, d := range dm.live {
		out = append(out, d)
	}
	dm.liveMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IEEE() < out[j].IEEE() })
	return out
}

// ListDevices returns all known device records.
func (dm *DeviceManager) ListDevices() ([]*store.Device, error) {
	return dm.coord.Store().ListDevices()
}

// GetDevice returns a device record by IEEE address.
func (dm *DeviceManager) GetDevice(ieee string) (*store.Device, error) {
	return dm.coord.Store().GetDevice(ieee)
}

// HandleAnnounce records the device's short address and starts an interview.
func (dm *DeviceManager) HandleAnnounce(evt ncp.DeviceAnnounceEvent) {
	ieee := fmt.Sprintf("%016X", evt.IEEEAddr)
	dm.updateAddrIndex(ieee, evt.ShortAddr)

	dev, err := dm.coord.Store().GetDevice(ieee)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			dm.logger.Error("get device on announce", "err", err, "ieee", ieee)
			return
		}
		dev = &store.Device{IEEEAddress: ieee, JoinedAt: time.Now()}
	}
	dev.ShortAddress = evt.ShortAddr
	dev.LastSeen = time.Now()
	if err := dm.coord.Store().SaveDevice(dev); err != nil {
		dm.logger.Error("save device on announce", "err", err, "ieee", ieee)
		return
	}
	dm.logger.Info("device announce", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr), "name", deviceName(dev))

	dm.coord.Events().Emit(Event{
		Type: EventDeviceAnnounce,
		Data: map[string]interface{}{
			"ieee":       ieee,
			"short_addr": evt.ShortAddr,
		},
	})

	dm.interviewMu.Lock()
	_, interviewing := dm.interviewCancels[ieee]
	dm.interviewMu.Unlock()
	if interviewing {
		dm.logger.Info("announce during interview, address updated", "ieee", ieee)
		return
	}

	dm.lastAnnMu.Lock()
	if last, ok := dm.lastAnn[ieee]; ok && time.Since(last) < 3*time.Second {
		dm.lastAnnMu.Unlock()
		dm.logger.Debug("duplicate announce, interview already started", "ieee", ieee)
		return
	}
	dm.lastAnn[ieee] = time.Now()
	if len(dm.lastAnn) > 50 {
		for k, t := range dm.lastAnn {
			if time.Since(t) > time.Minute {
				delete(dm.lastAnn, k)
			}
		}
	}
	dm.lastAnnMu.Unlock()

	dm.interviewWg.Add(1)
	go dm.Interview(ieee)
}

// HandleLeave drops the live device, deletes it from the store and emits
// EventDeviceLeft.
func (dm *DeviceManager) HandleLeave(evt ncp.DeviceLeftEvent) {
	ieee := fmt.Sprintf("%016X", evt.IEEEAddr)
	dm.logger.Info("device left", "ieee", ieee)
	if err := dm.forget(ieee); err != nil {
		dm.logger.Error("delete device on leave", "err", err, "ieee", ieee)
	}
}

// RemoveDevice forgets a device. The device keeps its network membership
// until it leaves or rejoins.
func (dm *DeviceManager) RemoveDevice(ieee string) error {
	if _, err := dm.coord.Store().GetDevice(ieee); err != nil {
		return err
	}
	return dm.forget(ieee)
}

func (dm *DeviceManager) forget(ieee string) error {
	dm.cancelInterview(ieee)

	dm.lastAnnMu.Lock()
	delete(dm.lastAnn, ieee)
	dm.lastAnnMu.Unlock()

	dm.removeFromAddrIndex(ieee)

	dm.liveMu.Lock()
	delete(dm.live, ieee)
	dm.liveMu.Unlock()

	err := dm.coord.Store().DeleteDevice(ieee)
	dm.coord.Events().Emit(Event{
		Type: EventDeviceLeft,
		Data: map[string]interface{}{"ieee": ieee},
	})
	if err != nil {
		return fmt.Errorf("delete device %s: %w", ieee, err)
	}
	return nil
}

// Interview queries a device for its endpoints and descriptors, then sets up
// its endpoints. Retries up to 3 times, re-reading the device from store each
// time to pick up short address changes from re-joins.
func (dm *DeviceManager) Interview(ieee string) {
	gen := dm.interviewGen.Add(1)

	defer func() {
		dm.interviewMu.Lock()
		if entry, ok := dm.interviewCancels[ieee]; ok && entry.gen == gen {
			delete(dm.interviewCancels, ieee)
		}
		dm.interviewMu.Unlock()
		dm.interviewWg.Done()
	}()

	ctx, cancel := context.WithTimeout(dm.coord.Context(), 3*time.Minute)
	defer cancel()

	dm.interviewMu.Lock()
	if prev, ok := dm.interviewCancels[ieee]; ok {
		prev.cancel()
	}
	dm.interviewCancels[ieee] = interviewEntry{cancel: cancel, gen: gen}
	dm.interviewMu.Unlock()

	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		dev, err := dm.coord.Store().GetDevice(ieee)
		if err != nil {
			dm.logger.Error("interview: device not found", "ieee", ieee)
			return
		}

		dm.logger.Info("starting interview", "ieee", ieee, "name", deviceName(dev),
			"short", fmt.Sprintf("0x%04X", dev.ShortAddress), "attempt", attempt)

		def, err := dm.interview(ctx, dev)
		if err != nil {
			dm.logger.Warn("interview failed", "err", err, "ieee", ieee, "attempt", attempt)
			if ctx.Err() != nil {
				return
			}
			if attempt < maxRetries {
				base := dm.coord.retryDelay
				delay := base + time.Duration(rand.Int64N(int64(base)*3/5+1))
				dm.logger.Info("interview: will retry", "ieee", ieee, "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		dev.Interviewed = true
		if err := dm.coord.Store().SaveDevice(dev); err != nil {
			dm.logger.Error("interview: save", "err", err, "ieee", ieee)
			return
		}
		dm.logger.Info("interview complete", "ieee", ieee, "name", deviceName(dev), "endpoints", len(dev.Endpoints))

		if _, err := dm.setup(ctx, dev, def, false); err != nil {
			dm.logger.Error("device setup", "err", err, "ieee", ieee)
		}
		return
	}

	dm.logger.Error("interview failed after retries", "ieee", ieee, "attempts", maxRetries)
}

// interview fills dev with its endpoints and identity.
func (dm *DeviceManager) interview(ctx context.Context, dev *store.Device) (*DeviceDefinition, error) {
	backend := dm.coord.NCP()
	eps, err := backend.ActiveEndpoints(ctx, dev.ShortAddress)
	if err != nil {
		return nil, fmt.Errorf("active endpoints: %w", err)
	}

	dev.Endpoints = make([]store.Endpoint, 0, len(eps))
	for _, ep := range eps {
		sd, err := backend.SimpleDescriptor(ctx, dev.ShortAddress, ep)
		if err != nil {
			dm.logger.Warn("interview: simple desc", "err", err, "ieee", dev.IEEEAddress, "ep", ep)
			continue
		}
		dev.Endpoints = append(dev.Endpoints, store.Endpoint{
			ID:          ep,
			ProfileID:   sd.ProfileID,
			DeviceID:    sd.DeviceID,
			InClusters:  sd.InClusters,
			OutClusters: sd.OutClusters,
		})
		dm.logger.Debug("endpoint discovered", "ieee", dev.IEEEAddress, "ep", ep,
			"in_clusters", len(sd.InClusters), "out_clusters", len(sd.OutClusters))
	}
	if len(dev.Endpoints) > 0 {
		dm.readBasicAttributes(ctx, dev)
	}

	def := dm.coord.DeviceDB().Lookup(dev.Manufacturer, dev.Model)
	if def != nil && def.FriendlyName != "" {
		dev.FriendlyName = def.FriendlyName
	} else if dev.FriendlyName == "" && dev.Model != "" {
		dev.FriendlyName = dev.Model
	}
	return def, nil
}

func (dm *DeviceManager) readBasicAttributes(ctx context.Context, dev *store.Device) {
	ep := dev.Endpoints[0].ID
	for _, e := range dev.Endpoints {
		if hasCluster(e.InClusters, zcl.ClusterBasic) {
			ep = e.ID
			break
		}
	}
	results, err := dm.coord.NCP().ReadAttributes(ctx, ncp.ReadAttributesRequest{
		DstAddr:   dev.ShortAddress,
		DstEP:     ep,
		ClusterID: zcl.ClusterBasic,
		AttrIDs:   []uint16{0x0004, 0x0005},
	})
	if err != nil {
		dm.logger.Warn("read basic attributes", "err", err, "ieee", dev.IEEEAddress)
		return
	}
	for _, r := range results {
		if r.Status != zcl.StatusSuccess || len(r.Value) == 0 {
			continue
		}
		val, _, err := zcl.DecodeValue(r.DataType, r.Value)
		if err != nil {
			continue
		}
		s, ok := val.(string)
		if !ok {
			continue
		}
		switch r.AttrID {
		case 0x0004:
			dev.Manufacturer = s
		case 0x0005:
			dev.Model = s
		}
	}
}

func hasCluster(ids []uint16, id uint16) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

// setup builds the live device from rec and runs its lifecycle. A fresh join
// configures and initializes from the radio; a restore seeds cluster caches
// from the store and initializes from cache.
func (dm *DeviceManager) setup(ctx context.Context, rec *store.Device, def *DeviceDefinition, restore bool) (*Device, error) {
	d, err := newDevice(rec, def, dm.coord.deviceDeps())
	if err != nil {
		return nil, fmt.Errorf("build device %s: %w", rec.IEEEAddress, err)
	}

	if restore {
		dm.restoreAttributes(d)
		d.Initialize(ctx, true)
	} else {
		d.Configure(ctx)
		d.Initialize(ctx, false)
	}
	// Cancelled means the device left or was removed while being set up. A
	// deadline only cut stages short; their failures are already logged.
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("setup %s: %w", rec.IEEEAddress, err)
	}
	d.markInitialized()

	dm.liveMu.Lock()
	dm.live[d.IEEE()] = d
	dm.liveMu.Unlock()
	dm.updateAddrIndex(d.IEEE(), rec.ShortAddress)

	dm.publishEntities(d)
	dm.coord.Events().Emit(Event{
		Type: EventDeviceInitialized,
		Data: map[string]interface{}{
			"ieee":     d.IEEE(),
			"name":     d.Name(),
			"restored": restore,
		},
	})
	return d, nil
}

func (dm *DeviceManager) publishEntities(d *Device) {
	entities := d.Entities().Drain()
	if len(entities) == 0 {
		return
	}
	var ids []string
	for _, reqs := range entities {
		for _, r := range reqs {
			ids = append(ids, r.UniqueID)
		}
	}
	sort.Strings(ids)
	ed := EntitiesDiscovered{
		IEEE:      d.IEEE(),
		Name:      d.Name(),
		Model:     d.Model(),
		Vendor:    d.Manufacturer(),
		Entities:  entities,
		UniqueIDs: ids,
	}
	d.setDiscovered(ed)
	dm.logger.Info("entities discovered", "ieee", d.IEEE(), "name", d.Name(), "count", len(ids))
	dm.coord.Events().Emit(Event{Type: EventEntitiesDiscovered, Data: ed})
}

// restoreAttributes seeds the cluster caches from persisted attribute values.
func (dm *DeviceManager) restoreAttributes(d *Device) {
	attrs, err := dm.coord.Store().ListAttributes(d.IEEE())
	if err != nil {
		dm.logger.Warn("list cached attributes", "err", err, "ieee", d.IEEE())
		return
	}
	n := 0
	for _, a := range attrs {
		ep, ok := d.Endpoint(a.Endpoint)
		if !ok {
			continue
		}
		c, ok := ep.Source().InClusters[a.ClusterID]
		if !ok {
			continue
		}
		val, _, err := zcl.DecodeValue(a.DataType, a.Value)
		if err != nil {
			continue
		}
		c.UpdateCache(a.AttrID, val)
		n++
	}
	dm.logger.Debug("restored attribute cache", "ieee", d.IEEE(), "attributes", n)
}

// Restore rebuilds every interviewed device from the store. Each device gets
// its own setup deadline derived from the coordinator context.
func (dm *DeviceManager) Restore() {
	devices, err := dm.coord.Store().ListDevices()
	if err != nil {
		dm.logger.Error("restore devices", "err", err)
		return
	}
	dm.addrMu.Lock()
	clear(dm.addrIndex)
	for _, rec := range devices {
		dm.addrIndex[rec.ShortAddress] = rec.IEEEAddress
	}
	dm.addrMu.Unlock()

	restored := 0
	for _, rec := range devices {
		if !rec.Interviewed || rec.IsCoordinator {
			continue
		}
		def := dm.coord.DeviceDB().Lookup(rec.Manufacturer, rec.Model)
		ctx, cancel := context.WithTimeout(dm.coord.Context(), dm.coord.restoreTimeout)
		_, err := dm.setup(ctx, rec, def, true)
		cancel()
		if err != nil {
			dm.logger.Error("restore device", "err", err, "ieee", rec.IEEEAddress)
			continue
		}
		restored++
	}
	dm.logger.Info("devices restored", "count", restored)
}

// HandleAttributeReport updates the cluster cache of the reporting device,
// notifies its handler and persists the value.
func (dm *DeviceManager) HandleAttributeReport(evt ncp.AttributeReportEvent) {
	ieee := dm.lookupIEEE(evt.SrcAddr)
	if ieee == "" {
		dm.logger.Debug("report from unknown device", "short", fmt.Sprintf("0x%04X", evt.SrcAddr))
		return
	}

	decoded, _, err := zcl.DecodeValue(evt.DataType, evt.Value)
	if err != nil {
		dm.logger.Warn("decode attribute report", "err", err, "ieee", ieee,
			"cluster", fmt.Sprintf("0x%04X", evt.ClusterID), "attr", fmt.Sprintf("0x%04X", evt.AttrID))
		return
	}

	clusterName := fmt.Sprintf("0x%04X", evt.ClusterID)
	attrName := fmt.Sprintf("0x%04X", evt.AttrID)
	if def := dm.coord.Catalog().Get(evt.ClusterID); def != nil {
		clusterName = def.Name
		if attr := def.FindAttribute(evt.AttrID); attr != nil {
			attrName = attr.Name
		}
	}

	if d, ok := dm.Device(ieee); ok {
		if ep, ok := d.Endpoint(evt.SrcEP); ok {
			if c, ok := ep.Source().InClusters[evt.ClusterID]; ok {
				c.UpdateCache(evt.AttrID, decoded)
			}
			if h, ok := ep.ServerHandler(evt.ClusterID); ok {
				if l, ok := h.(handlers.AttributeListener); ok {
					l.AttributeUpdated(evt.AttrID, decoded)
				}
			}
		}
	}

	if err := dm.coord.Store().SaveAttribute(ieee, store.Attribute{
		Endpoint:  evt.SrcEP,
		ClusterID: evt.ClusterID,
		AttrID:    evt.AttrID,
		DataType:  evt.DataType,
		Value:     evt.Value,
		UpdatedAt: time.Now(),
	}); err != nil {
		dm.logger.Error("save attribute", "err", err, "ieee", ieee)
	}
	err = dm.coord.Store().UpdateDevice(ieee, func(dev *store.Device) error {
		dev.LastSeen = time.Now()
		if evt.LQI > 0 {
			dev.LQI = evt.LQI
			dev.RSSI = evt.RSSI
		}
		return nil
	})
	if err != nil {
		dm.logger.Error("save device last_seen", "err", err, "ieee", ieee)
	}

	dm.logger.Debug("attribute report", "ieee", ieee, "ep", evt.SrcEP,
		"cluster", clusterName, "attr", attrName, "value", decoded)

	dm.coord.Events().Emit(Event{
		Type: EventAttributeReport,
		Data: map[string]interface{}{
			"ieee":         ieee,
			"endpoint":     evt.SrcEP,
			"cluster_id":   evt.ClusterID,
			"cluster_name": clusterName,
			"attr_id":      evt.AttrID,
			"attr_name":    attrName,
			"value":        decoded,
		},
	})
}

// ConfigureDevice reruns the configure and initialize stages of a live device.
func (dm *DeviceManager) ConfigureDevice(ctx context.Context, ieee string) error {
	d, ok := dm.Device(ieee)
	if !ok {
		return fmt.Errorf("configure %s: %w", ieee, ErrDeviceNotReady)
	}
	d.Configure(ctx)
	d.Initialize(ctx, false)
	return nil
}

// Identify asks a live device to identify itself for the given duration.
func (dm *DeviceManager) Identify(ctx context.Context, ieee string, seconds uint16) error {
	d, ok := dm.Device(ieee)
	if !ok {
		return fmt.Errorf("identify %s: %w", ieee, ErrDeviceNotReady)
	}
	h, ok := d.IdentifyHandler().(*handlers.Identify)
	if !ok {
		return fmt.Errorf("identify %s: no identify cluster", ieee)
	}
	return h.Identify(ctx, seconds)
}
