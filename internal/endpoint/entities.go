package endpoint

import (
	"sync"

	"zigbee-endpoints/internal/handlers"
)

// EntityDescriptor says how to build an entity. Consumers such as the MQTT
// discovery publisher turn it into a concrete entity.
type EntityDescriptor struct {
	Name        string `json:"name"`
	DeviceClass string `json:"device_class,omitempty"`
	Unit        string `json:"unit,omitempty"`
	// Attr is the attribute the state is taken from, "" for stateless entities.
	Attr string `json:"attr,omitempty"`
	// Scale divides the raw attribute value (100 for centi-degrees).
	Scale float64 `json:"scale,omitempty"`
}

// EntityRequest is a queued request to create an entity.
type EntityRequest struct {
	Platform   string
	Descriptor EntityDescriptor
	UniqueID   string
	DeviceIEEE string
	EndpointID uint8
	Handlers   []handlers.ClusterHandler
}

// EntityBuffer queues entity requests per platform. It is owned by a device
// and safe for concurrent use.
type EntityBuffer struct {
	mu       sync.Mutex
	requests map[string][]EntityRequest
}

func NewEntityBuffer() *EntityBuffer {
	return &EntityBuffer{requests: make(map[string][]EntityRequest)}
}

func (b *EntityBuffer) Add(req EntityRequest) {
	b.mu.Lock()
	b.requests[req.Platform] = append(b.requests[req.Platform], req)
	b.mu.Unlock()
}

// Drain returns every queued request grouped by platform and empties the buffer.
func (b *EntityBuffer) Drain() map[string][]EntityRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.requests
	b.requests = make(map[string][]EntityRequest)
	return out
}

// Len returns the number of queued requests across platforms.
func (b *EntityBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, reqs := range b.requests {
		n += len(reqs)
	}
	return n
}

// RequestEntity queues an entity for creation. Once the device is
// initialized its entities exist already and the request is dropped.
func (e *Endpoint) RequestEntity(platform string, desc EntityDescriptor, uniqueID string, hs []handlers.ClusterHandler) {
	if e.dev.Status() == StatusInitialized {
		return
	}
	e.dev.Entities().Add(EntityRequest{
		Platform:   platform,
		Descriptor: desc,
		UniqueID:   uniqueID,
		DeviceIEEE: e.dev.IEEE(),
		EndpointID: e.src.ID,
		Handlers:   hs,
	})
}

// SendSignal publishes signal through the device without waiting.
func (e *Endpoint) SendSignal(signal string, args ...any) {
	e.dev.Dispatch(signal, args...)
}

// EmitEvent forwards payload to the device with the endpoint identity added.
// Keys already present in payload take precedence.
func (e *Endpoint) EmitEvent(payload map[string]any) {
	merged := make(map[string]any, len(payload)+2)
	merged["unique_id"] = e.uniqueID
	merged["endpoint_id"] = e.src.ID
	for k, v := range payload {
		merged[k] = v
	}
	e.dev.SendEvent(merged)
}
