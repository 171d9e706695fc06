//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"zigbee-endpoints/internal/discovery"
	"zigbee-endpoints/internal/endpoint"
	"zigbee-endpoints/internal/handlers"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zigbee_00158D.../1_temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                    string   `json:"name"`
	UniqueID                string   `json:"unique_id"`
	StateTopic              string   `json:"state_topic,omitempty"`
	CommandTopic            string   `json:"command_topic,omitempty"`
	AvailabilityTopic       string   `json:"availability_topic"`
	ValueTemplate           string   `json:"value_template,omitempty"`
	StateValueTemplate      string   `json:"state_value_template,omitempty"`
	UnitOfMeasurement       string   `json:"unit_of_measurement,omitempty"`
	DeviceClass             string   `json:"device_class,omitempty"`
	StateClass              string   `json:"state_class,omitempty"`
	PayloadOn               string   `json:"payload_on,omitempty"`
	PayloadOff              string   `json:"payload_off,omitempty"`
	PayloadLock             string   `json:"payload_lock,omitempty"`
	PayloadUnlock           string   `json:"payload_unlock,omitempty"`
	PayloadPress            string   `json:"payload_press,omitempty"`
	BrightnessScale         int      `json:"brightness_scale,omitempty"`
	BrightnessStateTopic    string   `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic  string   `json:"brightness_command_topic,omitempty"`
	BrightnessValueTemplate string   `json:"brightness_value_template,omitempty"`
	SupportedColorModes     []string `json:"supported_color_modes,omitempty"`
	Device                  haDevice `json:"device"`
}

// deviceInfo is what the bridge knows about a device's identity.
type deviceInfo struct {
	IEEE         string
	Name         string
	Manufacturer string
	Model        string
}

func (d deviceInfo) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.IEEE
}

// entity is an entity request the bridge tracks: where its state comes
// from and which handlers execute its commands.
type entity struct {
	ObjectID   string
	Platform   string
	UniqueID   string
	Endpoint   uint8
	Cluster    uint16
	Descriptor endpoint.EntityDescriptor
	Handlers   []handlers.ClusterHandler
}

func newEntity(req endpoint.EntityRequest) *entity {
	e := &entity{
		ObjectID:   objectID(req),
		Platform:   req.Platform,
		UniqueID:   req.UniqueID,
		Endpoint:   req.EndpointID,
		Descriptor: req.Descriptor,
		Handlers:   req.Handlers,
	}
	if len(req.Handlers) > 0 {
		e.Cluster = req.Handlers[0].ClusterID()
	}
	return e
}

// objectID derives the HA object id from the entity unique id
// ("00158D00012A3B4C-1-temperature" -> "1_temperature").
func objectID(req endpoint.EntityRequest) string {
	id := strings.TrimPrefix(req.UniqueID, req.DeviceIEEE+"-")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '_'
	}, id)
}

// levelHandler returns the level control handler of a light, if any.
func (e *entity) levelHandler() *handlers.LevelControl {
	for _, h := range e.Handlers {
		if l, ok := h.(*handlers.LevelControl); ok {
			return l
		}
	}
	return nil
}

func (e *entity) commandTopic(prefix, ieee string) string {
	return prefix + "/" + ieee + "/" + e.ObjectID + "/set"
}

func (e *entity) brightnessTopic(prefix, ieee string) string {
	return prefix + "/" + ieee + "/" + e.ObjectID + "/brightness/set"
}

func (e *entity) configTopic(ieee string) string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", e.Platform, deviceIdentifier(ieee), e.ObjectID)
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(ieee string) string {
	return "zigbee_" + ieee
}

func stateTopic(prefix, ieee string) string {
	return prefix + "/" + ieee
}

// buildDiscovery generates the HA discovery message of one entity.
func buildDiscovery(dev deviceInfo, e *entity, prefix string) discoveryMsg {
	state := stateTopic(prefix, dev.IEEE)
	name := dev.displayName()
	if e.Descriptor.Name != "" {
		name += " " + e.Descriptor.Name
	}
	payload := haDiscovery{
		Name:              name,
		UniqueID:          e.UniqueID,
		StateTopic:        state,
		AvailabilityTopic: prefix + "/bridge/state",
		DeviceClass:       e.Descriptor.DeviceClass,
		Device: haDevice{
			Identifiers:  []string{deviceIdentifier(dev.IEEE)},
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			Name:         dev.displayName(),
		},
	}
	tmpl := "{{ value_json." + e.ObjectID + " }}"

	switch e.Platform {
	case discovery.PlatformSensor:
		payload.ValueTemplate = tmpl
		payload.UnitOfMeasurement = e.Descriptor.Unit
		payload.StateClass = "measurement"
	case discovery.PlatformBinarySensor:
		payload.ValueTemplate = tmpl
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case discovery.PlatformSwitch:
		payload.ValueTemplate = tmpl
		payload.CommandTopic = e.commandTopic(prefix, dev.IEEE)
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case discovery.PlatformLock:
		payload.ValueTemplate = tmpl
		payload.CommandTopic = e.commandTopic(prefix, dev.IEEE)
		payload.PayloadLock = "LOCK"
		payload.PayloadUnlock = "UNLOCK"
	case discovery.PlatformLight:
		payload.StateValueTemplate = tmpl
		payload.CommandTopic = e.commandTopic(prefix, dev.IEEE)
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
		payload.SupportedColorModes = []string{"onoff"}
		if e.levelHandler() != nil {
			payload.SupportedColorModes = []string{"brightness"}
			payload.BrightnessScale = 254
			payload.BrightnessStateTopic = state
			payload.BrightnessCommandTopic = e.brightnessTopic(prefix, dev.IEEE)
			payload.BrightnessValueTemplate = "{{ value_json." + e.ObjectID + "_brightness }}"
		}
	case discovery.PlatformButton:
		payload.StateTopic = ""
		payload.CommandTopic = e.commandTopic(prefix, dev.IEEE)
		payload.PayloadPress = "PRESS"
	}
	return discoveryMsg{Topic: e.configTopic(dev.IEEE), Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages that remove the
// entities from HA.
func buildRemoveDiscovery(ieee string, ents []*entity) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(ents))
	for _, e := range ents {
		msgs = append(msgs, discoveryMsg{Topic: e.configTopic(ieee)})
	}
	return msgs
}

// stateKey returns the state property an attribute update of e is stored
// under, or "" when the attribute does not belong to e.
func (e *entity) stateKey(ep uint8, cluster uint16, attrName string) string {
	if ep != e.Endpoint {
		return ""
	}
	if cluster == e.Cluster && attrName == e.Descriptor.Attr {
		return e.ObjectID
	}
	if l := e.levelHandler(); l != nil && cluster == l.ClusterID() && attrName == "CurrentLevel" {
		return e.ObjectID + "_brightness"
	}
	return ""
}

// stateValue converts a decoded attribute value to what HA expects for e.
func (e *entity) stateValue(key string, v any) any {
	if key != e.ObjectID {
		return v
	}
	switch e.Platform {
	case discovery.PlatformSwitch, discovery.PlatformLight, discovery.PlatformBinarySensor:
		return onOff(v)
	case discovery.PlatformLock:
		if n, ok := toFloat64(v); ok && n == 1 {
			return "LOCKED"
		}
		return "UNLOCKED"
	}
	if e.Descriptor.Scale > 0 {
		if n, ok := toFloat64(v); ok {
			return n / e.Descriptor.Scale
		}
	}
	return v
}

// onOff maps booleans and bitmaps (bit 0) to "ON"/"OFF".
func onOff(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "ON"
		}
		return "OFF"
	}
	if n, ok := toFloat64(v); ok && int64(n)&1 == 1 {
		return "ON"
	}
	return "OFF"
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
