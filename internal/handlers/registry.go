package handlers

import (
	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

// Constructor builds a handler for one cluster on owner.
type Constructor func(c *zigbee.Cluster, owner Owner) ClusterHandler

// MatchFunc can reject a cluster instance for a registered constructor.
type MatchFunc func(c *zigbee.Cluster, owner Owner) bool

// Entry is a registered server constructor with an optional predicate.
type Entry struct {
	New     Constructor
	Matches MatchFunc
}

// Override sends one known-anomalous (cluster id, endpoint attribute)
// combination to a specific constructor, ahead of the registry.
type Override struct {
	Name        string
	ClusterID   uint16
	EpAttribute string
	New         Constructor
}

// Registry maps cluster ids to handler constructors. It is populated before
// use and read-only afterwards.
type Registry struct {
	server    map[uint16]Entry
	client    map[uint16]Constructor
	overrides []Override
	generic   Constructor
}

// NewRegistry returns an empty registry that falls back to NewGeneric.
func NewRegistry() *Registry {
	return &Registry{
		server:  make(map[uint16]Entry),
		client:  make(map[uint16]Constructor),
		generic: NewGeneric,
	}
}

func (r *Registry) RegisterServer(clusterID uint16, e Entry) { r.server[clusterID] = e }

func (r *Registry) RegisterClient(clusterID uint16, c Constructor) { r.client[clusterID] = c }

func (r *Registry) AddOverride(o Override) { r.overrides = append(r.overrides, o) }

// OverrideFor returns the override matching c, if any.
func (r *Registry) OverrideFor(c *zigbee.Cluster) (Override, bool) {
	for _, o := range r.overrides {
		if o.ClusterID == c.ID && o.EpAttribute == c.EpAttribute {
			return o, true
		}
	}
	return Override{}, false
}

// LookupServer resolves the constructor for an input cluster: an override
// if one matches, else the registered entry unless its predicate rejects
// the cluster, else the generic handler. It never fails.
func (r *Registry) LookupServer(c *zigbee.Cluster, owner Owner) Constructor {
	if o, ok := r.OverrideFor(c); ok {
		return o.New
	}
	e, ok := r.server[c.ID]
	if !ok || e.New == nil {
		return r.generic
	}
	if e.Matches != nil && !e.Matches(c, owner) {
		return r.generic
	}
	return e.New
}

// ClientTable returns a copy of the client constructor table.
func (r *Registry) ClientTable() map[uint16]Constructor {
	out := make(map[uint16]Constructor, len(r.client))
	for id, c := range r.client {
		out[id] = c
	}
	return out
}

// DefaultRegistry returns the built-in handler tables.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterServer(zcl.ClusterBasic, Entry{New: NewBasic})
	r.RegisterServer(zcl.ClusterPowerConfiguration, Entry{New: NewPowerConfiguration})
	r.RegisterServer(zcl.ClusterIdentify, Entry{New: NewIdentify})
	r.RegisterServer(zcl.ClusterOnOff, Entry{New: NewOnOff})
	r.RegisterServer(zcl.ClusterLevelControl, Entry{New: NewLevelControl})
	r.RegisterServer(zcl.ClusterMultistateInput, Entry{New: NewMultistateInput})
	r.RegisterServer(zcl.ClusterDoorLock, Entry{New: NewDoorLock, Matches: doorLockMatches})
	r.RegisterServer(zcl.ClusterIlluminance, Entry{New: NewIlluminance})
	r.RegisterServer(zcl.ClusterTemperature, Entry{New: NewTemperature})
	r.RegisterServer(zcl.ClusterPressure, Entry{New: NewPressure})
	r.RegisterServer(zcl.ClusterHumidity, Entry{New: NewHumidity})
	r.RegisterServer(zcl.ClusterOccupancy, Entry{New: NewOccupancy})
	r.RegisterServer(zcl.ClusterIASZone, Entry{New: NewIASZone})
	r.RegisterServer(zcl.ClusterMetering, Entry{New: NewMetering})
	r.RegisterServer(zcl.ClusterElectricalMeasurement, Entry{New: NewElectricalMeasurement})

	r.RegisterClient(zcl.ClusterOnOff, NewOnOffClient)
	r.RegisterClient(zcl.ClusterLevelControl, NewLevelClient)
	r.RegisterClient(zcl.ClusterScenes, NewScenesClient)
	r.RegisterClient(zcl.ClusterOTA, NewOTAClient)

	r.AddOverride(Override{
		Name:        "door_lock_as_multistate_input",
		ClusterID:   zcl.ClusterDoorLock,
		EpAttribute: "multistate_input",
		New:         NewMultistateInput,
	})
	return r
}
