package endpoint

import (
	"log/slog"

	"zigbee-endpoints/internal/handlers"
)

// Status is the initialization state of a device.
type Status int

const (
	StatusCreated Status = iota
	StatusInitialized
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Device is the owner of a set of endpoints.
type Device interface {
	// IEEE is the stable device identifier ("00158D00012A3B4C").
	IEEE() string
	IsCoordinator() bool
	Status() Status
	// CoordinatorIEEE is the address handlers bind and enroll to.
	CoordinatorIEEE() [8]byte
	Logger() *slog.Logger

	SetPowerConfigurationHandler(h handlers.ClusterHandler)
	SetIdentifyHandler(h handlers.ClusterHandler)
	SetBasicHandler(h handlers.ClusterHandler)

	// Entities is the buffer entity requests are queued in until the device
	// has been initialized.
	Entities() *EntityBuffer
	// Dispatch publishes a signal without waiting for subscribers.
	Dispatch(signal string, args ...any)
	SendEvent(payload map[string]any)
}

// Probe decides which handlers of an endpoint become entities.
type Probe interface {
	DiscoverEntities(ep *Endpoint)
}
