// Package zigbee provides the per-endpoint cluster objects handlers talk
// through. A Cluster knows its address and the NCP backend; it never frames
// packets itself.
package zigbee

import (
	"context"
	"fmt"
	"sync"

	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/zcl"
)

// Addr locates a cluster on the network.
type Addr struct {
	IEEE     [8]byte
	NWK      uint16
	Endpoint uint8
}

// IEEEString formats the IEEE address the way the store keys devices.
func (a Addr) IEEEString() string {
	return fmt.Sprintf("%016X", a.IEEE)
}

// ReportConfig describes attribute reporting for one attribute.
type ReportConfig struct {
	Attr   string
	Min    uint16
	Max    uint16
	Change int
}

// Cluster is one server or client cluster instance on an endpoint.
type Cluster struct {
	ID          uint16
	Def         *zcl.ClusterDef // nil for clusters unknown to the catalog
	EpAttribute string
	Addr        Addr
	IsServer    bool

	backend ncp.NCP

	mu    sync.RWMutex
	cache map[uint16]interface{}
}

// NewCluster creates a cluster bound to backend.
func NewCluster(backend ncp.NCP, def *zcl.ClusterDef, id uint16, addr Addr, isServer bool) *Cluster {
	c := &Cluster{
		ID:       id,
		Def:      def,
		Addr:     addr,
		IsServer: isServer,
		backend:  backend,
		cache:    make(map[uint16]interface{}),
	}
	if def != nil {
		c.EpAttribute = def.EpAttribute
	}
	return c
}

// Name returns the catalog name, or the hex id for unknown clusters.
func (c *Cluster) Name() string {
	if c.Def != nil && c.Def.Name != "" {
		return c.Def.Name
	}
	return fmt.Sprintf("0x%04X", c.ID)
}

func (c *Cluster) attr(name string) (*zcl.AttributeDef, error) {
	if c.Def == nil {
		return nil, fmt.Errorf("cluster 0x%04X has no definition", c.ID)
	}
	a := c.Def.FindAttributeByName(name)
	if a == nil {
		return nil, fmt.Errorf("cluster 0x%04X: unknown attribute %q", c.ID, name)
	}
	return a, nil
}

// UpdateCache records an attribute value (read result or report).
func (c *Cluster) UpdateCache(attrID uint16, value interface{}) {
	c.mu.Lock()
	c.cache[attrID] = value
	c.mu.Unlock()
}

// Cached returns a cached attribute value by name.
func (c *Cluster) Cached(name string) (interface{}, bool) {
	a, err := c.attr(name)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[a.ID]
	return v, ok
}

// ReadAttributes reads the named attributes. With onlyCache set the cache is
// the only source: nothing is sent to the device and misses are returned in
// failed. Otherwise the device is asked and attributes it reports as
// unsupported are returned in failed.
func (c *Cluster) ReadAttributes(ctx context.Context, names []string, onlyCache bool) (values map[string]interface{}, failed []string, err error) {
	values = make(map[string]interface{}, len(names))
	byID := make(map[uint16]string, len(names))
	var ids []uint16

	c.mu.RLock()
	for _, name := range names {
		a, aerr := c.attr(name)
		if aerr != nil {
			c.mu.RUnlock()
			return nil, nil, aerr
		}
		if onlyCache {
			if v, ok := c.cache[a.ID]; ok {
				values[name] = v
			} else {
				failed = append(failed, name)
			}
			continue
		}
		byID[a.ID] = name
		ids = append(ids, a.ID)
	}
	c.mu.RUnlock()

	if len(ids) == 0 {
		return values, failed, nil
	}

	resp, err := c.backend.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		DstAddr:   c.Addr.NWK,
		DstEP:     c.Addr.Endpoint,
		ClusterID: c.ID,
		AttrIDs:   ids,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read attributes 0x%04X: %w", c.ID, err)
	}

	for _, r := range resp {
		name, ok := byID[r.AttrID]
		if !ok {
			continue
		}
		delete(byID, r.AttrID)
		if r.Status != zcl.StatusSuccess {
			failed = append(failed, name)
			continue
		}
		v, _, derr := zcl.DecodeValue(r.DataType, r.Value)
		if derr != nil {
			failed = append(failed, name)
			continue
		}
		c.UpdateCache(r.AttrID, v)
		values[name] = v
	}
	for _, name := range byID {
		failed = append(failed, name)
	}
	return values, failed, nil
}

// WriteAttribute writes one attribute by name and caches the value on success.
func (c *Cluster) WriteAttribute(ctx context.Context, name string, value interface{}) error {
	a, err := c.attr(name)
	if err != nil {
		return err
	}
	encoded, err := zcl.EncodeValue(a.Type, value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	err = c.backend.WriteAttributes(ctx, ncp.WriteAttributesRequest{
		DstAddr:   c.Addr.NWK,
		DstEP:     c.Addr.Endpoint,
		ClusterID: c.ID,
		Records:   []ncp.WriteRecord{{AttrID: a.ID, DataType: a.Type, Value: encoded}},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.UpdateCache(a.ID, value)
	return nil
}

// Bind binds the cluster on the device to the coordinator.
func (c *Cluster) Bind(ctx context.Context, coordIEEE [8]byte) error {
	err := c.backend.Bind(ctx, ncp.BindRequest{
		TargetShortAddr: c.Addr.NWK,
		SrcIEEE:         c.Addr.IEEE,
		SrcEP:           c.Addr.Endpoint,
		ClusterID:       c.ID,
		DstIEEE:         coordIEEE,
		DstEP:           1,
	})
	if err != nil {
		return fmt.Errorf("bind 0x%04X: %w", c.ID, err)
	}
	return nil
}

// ConfigureReporting configures reporting for one attribute.
func (c *Cluster) ConfigureReporting(ctx context.Context, rc ReportConfig) error {
	a, err := c.attr(rc.Attr)
	if err != nil {
		return err
	}
	var change []byte
	if size := zcl.TypeSize(a.Type); size > 0 && a.Type != zcl.TypeBool && a.Type != zcl.TypeBitmap8 && a.Type != zcl.TypeBitmap16 {
		change = make([]byte, size)
		v := uint64(rc.Change)
		for i := range change {
			change[i] = byte(v >> (8 * i))
		}
	}
	err = c.backend.ConfigureReporting(ctx, ncp.ConfigureReportingRequest{
		DstAddr:      c.Addr.NWK,
		DstEP:        c.Addr.Endpoint,
		ClusterID:    c.ID,
		AttrID:       a.ID,
		DataType:     a.Type,
		MinInterval:  rc.Min,
		MaxInterval:  rc.Max,
		ReportChange: change,
	})
	if err != nil {
		return fmt.Errorf("configure reporting %s: %w", rc.Attr, err)
	}
	return nil
}

// Command sends a cluster-specific command.
func (c *Cluster) Command(ctx context.Context, commandID uint8, payload []byte) error {
	err := c.backend.SendCommand(ctx, ncp.ClusterCommandRequest{
		DstAddr:   c.Addr.NWK,
		DstEP:     c.Addr.Endpoint,
		ClusterID: c.ID,
		CommandID: commandID,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("command 0x%02X on 0x%04X: %w", commandID, c.ID, err)
	}
	return nil
}
