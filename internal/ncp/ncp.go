// Package ncp defines the interface for the Zigbee Network Co-Processor backend.
// The shipped backend is RemoteNCP, which drives a radio bridge over MQTT.
package ncp

import "context"

// NCP is the abstract interface for a Zigbee NCP device.
type NCP interface {
	// Network
	PermitJoin(ctx context.Context, duration uint8) error
	GetLocalIEEE(ctx context.Context) ([8]byte, error)

	// ZDO
	ActiveEndpoints(ctx context.Context, shortAddr uint16) ([]uint8, error)
	SimpleDescriptor(ctx context.Context, shortAddr uint16, endpoint uint8) (*SimpleDescriptor, error)
	Bind(ctx context.Context, req BindRequest) error

	// ZCL
	ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]AttributeResponse, error)
	WriteAttributes(ctx context.Context, req WriteAttributesRequest) error
	SendCommand(ctx context.Context, req ClusterCommandRequest) error
	ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) error

	// Indication callbacks
	OnDeviceAnnounce(handler func(DeviceAnnounceEvent))
	OnDeviceLeft(handler func(DeviceLeftEvent))
	OnAttributeReport(handler func(AttributeReportEvent))

	Close() error
}

// SimpleDescriptor describes an endpoint.
// ProfileID and DeviceID are nil when the descriptor did not carry them.
type SimpleDescriptor struct {
	Endpoint    uint8    `json:"endpoint"`
	ProfileID   *uint16  `json:"profile_id,omitempty"`
	DeviceID    *uint16  `json:"device_id,omitempty"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// BindRequest is a ZDO bind request.
type BindRequest struct {
	TargetShortAddr uint16  `json:"target_short_addr"`
	SrcIEEE         [8]byte `json:"src_ieee"`
	SrcEP           uint8   `json:"src_ep"`
	ClusterID       uint16  `json:"cluster_id"`
	DstIEEE         [8]byte `json:"dst_ieee"`
	DstEP           uint8   `json:"dst_ep"`
}

// ReadAttributesRequest specifies which attributes to read.
type ReadAttributesRequest struct {
	DstAddr   uint16   `json:"dst_addr"`
	DstEP     uint8    `json:"dst_ep"`
	ClusterID uint16   `json:"cluster_id"`
	AttrIDs   []uint16 `json:"attr_ids"`
}

// AttributeResponse holds a single attribute read result.
type AttributeResponse struct {
	AttrID   uint16 `json:"attr_id"`
	Status   uint8  `json:"status"`
	DataType uint8  `json:"data_type"`
	Value    []byte `json:"value"`
}

// WriteAttributesRequest specifies attributes to write.
type WriteAttributesRequest struct {
	DstAddr   uint16        `json:"dst_addr"`
	DstEP     uint8         `json:"dst_ep"`
	ClusterID uint16        `json:"cluster_id"`
	Records   []WriteRecord `json:"records"`
}

// WriteRecord is a single attribute write.
type WriteRecord struct {
	AttrID   uint16 `json:"attr_id"`
	DataType uint8  `json:"data_type"`
	Value    []byte `json:"value"`
}

// ClusterCommandRequest sends a cluster-specific command.
type ClusterCommandRequest struct {
	DstAddr   uint16 `json:"dst_addr"`
	DstEP     uint8  `json:"dst_ep"`
	ClusterID uint16 `json:"cluster_id"`
	CommandID uint8  `json:"command_id"`
	Payload   []byte `json:"payload,omitempty"`
}

// ConfigureReportingRequest sets up attribute reporting.
type ConfigureReportingRequest struct {
	DstAddr      uint16 `json:"dst_addr"`
	DstEP        uint8  `json:"dst_ep"`
	ClusterID    uint16 `json:"cluster_id"`
	AttrID       uint16 `json:"attr_id"`
	DataType     uint8  `json:"data_type"`
	MinInterval  uint16 `json:"min_interval"`
	MaxInterval  uint16 `json:"max_interval"`
	ReportChange []byte `json:"report_change,omitempty"`
}

// DeviceLeftEvent is emitted when a device leaves.
type DeviceLeftEvent struct {
	ShortAddr uint16  `json:"short_addr"`
	IEEEAddr  [8]byte `json:"ieee_addr"`
}

// DeviceAnnounceEvent is emitted on device announce.
type DeviceAnnounceEvent struct {
	ShortAddr  uint16  `json:"short_addr"`
	IEEEAddr   [8]byte `json:"ieee_addr"`
	Capability uint8   `json:"capability"`
}

// AttributeReportEvent is emitted for unsolicited attribute reports.
type AttributeReportEvent struct {
	SrcAddr   uint16 `json:"src_addr"`
	SrcEP     uint8  `json:"src_ep"`
	ClusterID uint16 `json:"cluster_id"`
	AttrID    uint16 `json:"attr_id"`
	DataType  uint8  `json:"data_type"`
	Value     []byte `json:"value"`
	LQI       uint8  `json:"lqi"`
	RSSI      int8   `json:"rssi"`
}
