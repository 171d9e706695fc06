package coordinator

import (
	"context"
	"fmt"

	"zigbee-endpoints/internal/zigbee"
)

// AttributeResult holds the outcome of an on-demand attribute read.
type AttributeResult struct {
	Values map[string]interface{} `json:"values"`
	Failed []string               `json:"failed,omitempty"`
}

// cluster resolves a server cluster of a live device.
func (dm *DeviceManager) cluster(ieee string, ep uint8, clusterID uint16) (*zigbee.Cluster, error) {
	d, ok := dm.Device(ieee)
	if !ok {
		return nil, fmt.Errorf("device %s: %w", ieee, ErrDeviceNotReady)
	}
	e, ok := d.Endpoint(ep)
	if !ok {
		return nil, fmt.Errorf("device %s has no endpoint %d", ieee, ep)
	}
	c, ok := e.Source().InClusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("endpoint %d has no cluster 0x%04X", ep, clusterID)
	}
	return c, nil
}

// ReadAttributes reads named attributes of a device cluster. With fromCache
// set, cached values are returned without radio traffic.
func (dm *DeviceManager) ReadAttributes(ctx context.Context, ieee string, ep uint8, clusterID uint16, names []string, fromCache bool) (*AttributeResult, error) {
	c, err := dm.cluster(ieee, ep, clusterID)
	if err != nil {
		return nil, err
	}
	values, failed, err := c.ReadAttributes(ctx, names, fromCache)
	if err != nil {
		return nil, err
	}
	return &AttributeResult{Values: values, Failed: failed}, nil
}

// WriteAttribute writes a single named attribute of a device cluster.
func (dm *DeviceManager) WriteAttribute(ctx context.Context, ieee string, ep uint8, clusterID uint16, name string, value interface{}) error {
	c, err := dm.cluster(ieee, ep, clusterID)
	if err != nil {
		return err
	}
	return c.WriteAttribute(ctx, name, value)
}

// SendClusterCommand sends a cluster-specific command to a device cluster.
func (dm *DeviceManager) SendClusterCommand(ctx context.Context, ieee string, ep uint8, clusterID uint16, commandID uint8, payload []byte) error {
	c, err := dm.cluster(ieee, ep, clusterID)
	if err != nil {
		return err
	}
	return c.Command(ctx, commandID, payload)
}
