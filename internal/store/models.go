package store

import "time"

// Device represents a Zigbee device.
type Device struct {
	IEEEAddress   string     `json:"ieee_address"`
	ShortAddress  uint16     `json:"short_address"`
	Manufacturer  string     `json:"manufacturer,omitempty"`
	Model         string     `json:"model,omitempty"`
	FriendlyName  string     `json:"friendly_name,omitempty"`
	Endpoints     []Endpoint `json:"endpoints,omitempty"`
	IsCoordinator bool       `json:"is_coordinator,omitempty"`
	Interviewed   bool       `json:"interviewed"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastSeen      time.Time  `json:"last_seen"`
	LQI           uint8      `json:"lqi,omitempty"`
	RSSI          int8       `json:"rssi,omitempty"`
}

// Endpoint represents a device endpoint as reported by its simple descriptor.
// ProfileID and DeviceID are nil when the descriptor did not carry them.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   *uint16  `json:"profile_id,omitempty"`
	DeviceID    *uint16  `json:"device_id,omitempty"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// Attribute is a raw attribute value last reported by a device, kept in its
// wire encoding so it decodes to the same Go type after a restart.
type Attribute struct {
	Endpoint  uint8     `json:"endpoint"`
	ClusterID uint16    `json:"cluster_id"`
	AttrID    uint16    `json:"attr_id"`
	DataType  uint8     `json:"data_type"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
