package zigbee

import (
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/zcl"
)

// Endpoint is the protocol-level view of one device endpoint: its descriptor
// and the cluster objects for its input (server) and output (client) clusters.
type Endpoint struct {
	ID          uint8
	ProfileID   *uint16
	DeviceType  *uint16
	InClusters  map[uint16]*Cluster
	OutClusters map[uint16]*Cluster
}

// NewEndpoint builds the cluster objects described by sd. epAttrs overrides
// the catalog endpoint attribute of individual clusters (vendor quirks).
func NewEndpoint(backend ncp.NCP, catalog *zcl.Catalog, ieee [8]byte, nwk uint16, sd ncp.SimpleDescriptor, epAttrs map[uint16]string) *Endpoint {
	addr := Addr{IEEE: ieee, NWK: nwk, Endpoint: sd.Endpoint}
	ep := &Endpoint{
		ID:          sd.Endpoint,
		ProfileID:   sd.ProfileID,
		DeviceType:  sd.DeviceID,
		InClusters:  make(map[uint16]*Cluster, len(sd.InClusters)),
		OutClusters: make(map[uint16]*Cluster, len(sd.OutClusters)),
	}
	for _, id := range sd.InClusters {
		c := NewCluster(backend, catalog.Get(id), id, addr, true)
		if a, ok := epAttrs[id]; ok {
			c.EpAttribute = a
		}
		ep.InClusters[id] = c
	}
	for _, id := range sd.OutClusters {
		ep.OutClusters[id] = NewCluster(backend, catalog.Get(id), id, addr, false)
	}
	return ep
}
