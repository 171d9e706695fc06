package handlers

import (
	"context"
	"encoding/binary"
	"fmt"

	"zigbee-endpoints/internal/zcl"
	"zigbee-endpoints/internal/zigbee"
)

// Symbolic names the device keeps direct references for.
const (
	NamePower    = "power"
	NameIdentify = "identify"
	NameBasic    = "basic"
)

// Basic reads the device identity attributes. It is never bound.
type Basic struct{ *Base }

func NewBasic(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.BindCluster = false
	b.InitAttrs = []string{"ManufacturerName", "ModelIdentifier", "PowerSource", "SWBuildID"}
	return &Basic{b}
}

// Manufacturer returns the cached manufacturer name.
func (h *Basic) Manufacturer() string {
	v, _ := h.Cluster().Cached("ManufacturerName")
	s, _ := v.(string)
	return s
}

// Model returns the cached model identifier.
func (h *Basic) Model() string {
	v, _ := h.Cluster().Cached("ModelIdentifier")
	s, _ := v.(string)
	return s
}

// PowerConfiguration reports battery state.
type PowerConfiguration struct{ *Base }

func NewPowerConfiguration(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{
		{Attr: "BatteryVoltage", Min: 3600, Max: 10800, Change: 1},
		{Attr: "BatteryPercentageRemaining", Min: 3600, Max: 10800, Change: 1},
	}
	b.InitAttrs = []string{"BatterySize", "BatteryQuantity"}
	return &PowerConfiguration{b}
}

// BatteryPercent returns the cached battery level in percent (the cluster
// reports half percent units).
func (h *PowerConfiguration) BatteryPercent() (float64, bool) {
	v, ok := h.Cluster().Cached("BatteryPercentageRemaining")
	if !ok {
		return 0, false
	}
	raw, ok := v.(uint8)
	if !ok || raw == 0xFF {
		return 0, false
	}
	return float64(raw) / 2, true
}

// Identify lets a user make the device blink.
type Identify struct{ *Base }

func NewIdentify(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.BindCluster = false
	return &Identify{b}
}

// Identify starts identification for the given number of seconds.
func (h *Identify) Identify(ctx context.Context, seconds uint16) error {
	return h.Cluster().Command(ctx, 0x00, binary.LittleEndian.AppendUint16(nil, seconds))
}

// OnOff controls and reports a switchable output.
type OnOff struct{ *Base }

func NewOnOff(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{{Attr: "OnOff", Min: 0, Max: 900, Change: 1}}
	return &OnOff{b}
}

func (h *OnOff) On(ctx context.Context) error     { return h.Cluster().Command(ctx, 0x01, nil) }
func (h *OnOff) Off(ctx context.Context) error    { return h.Cluster().Command(ctx, 0x00, nil) }
func (h *OnOff) Toggle(ctx context.Context) error { return h.Cluster().Command(ctx, 0x02, nil) }

// LevelControl controls brightness or position.
type LevelControl struct{ *Base }

func NewLevelControl(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{{Attr: "CurrentLevel", Min: 1, Max: 3600, Change: 1}}
	return &LevelControl{b}
}

// MoveToLevel moves to level over transition tenths of a second, switching
// the output on or off as needed.
func (h *LevelControl) MoveToLevel(ctx context.Context, level uint8, transition uint16) error {
	payload := append([]byte{level}, binary.LittleEndian.AppendUint16(nil, transition)...)
	return h.Cluster().Command(ctx, 0x04, payload)
}

// MultistateInput reports discrete states (buttons, cube gestures). State
// changes are emitted as endpoint events.
type MultistateInput struct{ *Base }

func NewMultistateInput(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{{Attr: "PresentValue", Min: 0, Max: 3600, Change: 1}}
	if c.Def == nil || c.Def.FindAttributeByName("PresentValue") == nil {
		// Vendor clusters reusing the multistate semantics under another id
		// carry no catalog attributes to report on.
		b.Reports = nil
	}
	return &MultistateInput{b}
}

func (h *MultistateInput) AttributeUpdated(attrID uint16, value any) {
	h.Base.AttributeUpdated(attrID, value)
	h.Owner().EmitEvent(map[string]any{
		"command": "multistate_input",
		"cluster": fmt.Sprintf("0x%04X", h.ClusterID()),
		"attr":    fmt.Sprintf("0x%04X", attrID),
		"value":   value,
	})
}

// DoorLock controls a lock.
type DoorLock struct{ *Base }

func NewDoorLock(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{{Attr: "LockState", Min: 0, Max: 3600, Change: 1}}
	return &DoorLock{b}
}

// doorLockMatches rejects door lock clusters some vendors use to carry
// multistate input values.
func doorLockMatches(c *zigbee.Cluster, _ Owner) bool {
	return c.EpAttribute != "multistate_input"
}

func (h *DoorLock) Lock(ctx context.Context) error   { return h.Cluster().Command(ctx, 0x00, nil) }
func (h *DoorLock) Unlock(ctx context.Context) error { return h.Cluster().Command(ctx, 0x01, nil) }

// IASZone enrolls security sensors with the coordinator.
type IASZone struct{ *Base }

func NewIASZone(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.InitAttrs = []string{"ZoneState", "ZoneType", "ZoneStatus"}
	return &IASZone{b}
}

// Configure binds, writes the coordinator as CIE address and sends an
// unsolicited enroll response.
func (h *IASZone) Configure(ctx context.Context) error {
	if err := h.Base.Configure(ctx); err != nil {
		return err
	}
	if err := h.Cluster().WriteAttribute(ctx, "IASCIEAddress", h.Owner().CoordinatorIEEE()); err != nil {
		return fmt.Errorf("write cie address: %w", err)
	}
	if err := h.Cluster().Command(ctx, 0x00, []byte{zcl.StatusSuccess, 0x00}); err != nil {
		return fmt.Errorf("enroll response: %w", err)
	}
	return nil
}
