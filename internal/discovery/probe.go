// Package discovery turns endpoint handlers into entity requests.
package discovery

import (
	"log/slog"

	"zigbee-endpoints/internal/endpoint"
	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/zcl"
)

// Platforms an entity can be created on.
const (
	PlatformSensor       = "sensor"
	PlatformBinarySensor = "binary_sensor"
	PlatformSwitch       = "switch"
	PlatformLight        = "light"
	PlatformLock         = "lock"
	PlatformButton       = "button"
)

// Rule maps a set of handler names on one endpoint to an entity. Every
// handler named in Handlers must be present and unclaimed; the first one is
// the primary handler the state is read from. A rule without a Platform only
// claims its handlers so they take part in the lifecycle.
type Rule struct {
	Platform   string
	Handlers   []string
	Suffix     string
	Descriptor endpoint.EntityDescriptor
	// DeviceTypes restricts the rule to endpoints declaring one of these
	// device types. Empty matches every endpoint.
	DeviceTypes []uint16
}

// HA device types that are lights even without a level control cluster.
var lightDeviceTypes = []uint16{0x0100, 0x0101, 0x0102, 0x010C, 0x010D}

// DefaultRules are evaluated in order; earlier rules win a handler.
func DefaultRules() []Rule {
	return []Rule{
		{Platform: PlatformLight, Handlers: []string{"on_off", "level"}, Suffix: "light",
			Descriptor: endpoint.EntityDescriptor{Name: "Light", Attr: "OnOff"}},
		{Platform: PlatformLight, Handlers: []string{"on_off"}, Suffix: "light", DeviceTypes: lightDeviceTypes,
			Descriptor: endpoint.EntityDescriptor{Name: "Light", Attr: "OnOff"}},
		{Platform: PlatformSwitch, Handlers: []string{"on_off"}, Suffix: "switch",
			Descriptor: endpoint.EntityDescriptor{Name: "Switch", Attr: "OnOff"}},
		{Platform: PlatformLock, Handlers: []string{"door_lock"}, Suffix: "lock",
			Descriptor: endpoint.EntityDescriptor{Name: "Lock", Attr: "LockState"}},
		{Platform: PlatformSensor, Handlers: []string{"multistate_input"}, Suffix: "action",
			Descriptor: endpoint.EntityDescriptor{Name: "Action", Attr: "PresentValue"}},
		{Platform: PlatformSensor, Handlers: []string{"temperature"}, Suffix: "temperature",
			Descriptor: endpoint.EntityDescriptor{Name: "Temperature", DeviceClass: "temperature", Unit: "°C", Attr: "MeasuredValue", Scale: 100}},
		{Platform: PlatformSensor, Handlers: []string{"humidity"}, Suffix: "humidity",
			Descriptor: endpoint.EntityDescriptor{Name: "Humidity", DeviceClass: "humidity", Unit: "%", Attr: "MeasuredValue", Scale: 100}},
		{Platform: PlatformSensor, Handlers: []string{"pressure"}, Suffix: "pressure",
			Descriptor: endpoint.EntityDescriptor{Name: "Pressure", DeviceClass: "pressure", Unit: "hPa", Attr: "MeasuredValue"}},
		{Platform: PlatformSensor, Handlers: []string{"illuminance"}, Suffix: "illuminance",
			Descriptor: endpoint.EntityDescriptor{Name: "Illuminance", DeviceClass: "illuminance", Unit: "lx", Attr: "MeasuredValue"}},
		{Platform: PlatformBinarySensor, Handlers: []string{"occupancy"}, Suffix: "occupancy",
			Descriptor: endpoint.EntityDescriptor{Name: "Occupancy", DeviceClass: "occupancy", Attr: "Occupancy"}},
		{Platform: PlatformBinarySensor, Handlers: []string{"ias_zone"}, Suffix: "ias_zone",
			Descriptor: endpoint.EntityDescriptor{Name: "Zone", DeviceClass: "safety", Attr: "ZoneStatus"}},
		{Platform: PlatformSensor, Handlers: []string{"smartenergy_metering"}, Suffix: "energy",
			Descriptor: endpoint.EntityDescriptor{Name: "Energy", DeviceClass: "energy", Unit: "kWh", Attr: "CurrentSummationDelivered"}},
		{Platform: PlatformSensor, Handlers: []string{"electrical_measurement"}, Suffix: "power",
			Descriptor: endpoint.EntityDescriptor{Name: "Power", DeviceClass: "power", Unit: "W", Attr: "ActivePower"}},
		{Platform: PlatformSensor, Handlers: []string{handlers.NamePower}, Suffix: "battery",
			Descriptor: endpoint.EntityDescriptor{Name: "Battery", DeviceClass: "battery", Unit: "%", Attr: "BatteryPercentageRemaining", Scale: 2}},
		{Platform: PlatformButton, Handlers: []string{handlers.NameIdentify}, Suffix: "identify",
			Descriptor: endpoint.EntityDescriptor{Name: "Identify", DeviceClass: "identify"}},
		{Handlers: []string{handlers.NameBasic}},
	}
}

// Probe claims handlers for entity rules.
type Probe struct {
	rules  []Rule
	logger *slog.Logger
}

// New creates a probe with the given rules, or DefaultRules when rules is nil.
func New(rules []Rule, logger *slog.Logger) *Probe {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Probe{rules: rules, logger: logger.With("component", "discovery")}
}

// DiscoverEntities claims handlers on ep and requests their entities.
func (p *Probe) DiscoverEntities(ep *endpoint.Endpoint) {
	byName := make(map[string]handlers.ClusterHandler)
	for _, h := range ep.Unclaimed() {
		byName[h.Name()] = h
	}

	var deviceType *uint16
	if ep.Source() != nil {
		deviceType = ep.Source().DeviceType
	}
	if src := ep.Source(); src != nil && src.ProfileID != nil && *src.ProfileID != zcl.ProfileHomeAutomation {
		// Device types are only meaningful within the HA profile.
		deviceType = nil
	}

	for _, rule := range p.rules {
		if !matchesDeviceType(rule.DeviceTypes, deviceType) {
			continue
		}
		hs := make([]handlers.ClusterHandler, 0, len(rule.Handlers))
		for _, name := range rule.Handlers {
			h, ok := byName[name]
			if !ok {
				break
			}
			hs = append(hs, h)
		}
		if len(hs) != len(rule.Handlers) {
			continue
		}
		for _, name := range rule.Handlers {
			delete(byName, name)
		}
		ep.Claim(hs...)
		if rule.Platform == "" {
			continue
		}
		uniqueID := ep.UniqueID() + "-" + rule.Suffix
		ep.RequestEntity(rule.Platform, rule.Descriptor, uniqueID, hs)
		p.logger.Debug("entity discovered", "unique_id", uniqueID, "platform", rule.Platform)
	}
}

func matchesDeviceType(allowed []uint16, deviceType *uint16) bool {
	if len(allowed) == 0 {
		return true
	}
	if deviceType == nil {
		return false
	}
	for _, dt := range allowed {
		if dt == *deviceType {
			return true
		}
	}
	return false
}
