//go:build !no_mqtt

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-endpoints/internal/coordinator"
	"zigbee-endpoints/internal/handlers"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// bridgeDevice is the per-device state the bridge accumulates.
type bridgeDevice struct {
	info     deviceInfo
	entities map[string]*entity // by object id
	state    map[string]any
}

func (d *bridgeDevice) sortedEntities() []*entity {
	out := make([]*entity, 0, len(d.entities))
	for _, e := range d.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out
}

// Bridge connects the Zigbee coordinator to MQTT with HA autodiscovery.
// Entities are published from the entity requests discovered on device
// endpoints; commands are executed through the claimed cluster handlers.
type Bridge struct {
	client    pahomqtt.Client
	coord     *coordinator.Coordinator
	prefix    string
	logger    *slog.Logger
	unsub     func()
	send      func(topic string, payload []byte, retained bool)
	subscribe func(topic string, handler func(payload []byte))

	mu      sync.Mutex
	devices map[string]*bridgeDevice // IEEE -> device
}

func newBridge(coord *coordinator.Coordinator, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		coord:   coord,
		prefix:  prefix,
		logger:  logger.With("component", "mqtt"),
		devices: make(map[string]*bridgeDevice),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(coord, cfg.TopicPrefix, logger)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-endpoints"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAll()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	b.send = func(topic string, payload []byte, retained bool) {
		token := client.Publish(topic, 1, retained, payload)
		go func() {
			if !token.WaitTimeout(5 * time.Second) {
				b.logger.Warn("MQTT publish timeout", "topic", topic)
			} else if err := token.Error(); err != nil {
				b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
			}
		}()
	}
	b.subscribe = func(topic string, handler func([]byte)) {
		client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			handler(msg.Payload())
		})
	}

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to coordinator events and publishes the devices that were
// set up before the bridge started.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	seeded := 0
	for _, d := range b.coord.Devices().Devices() {
		ed, ok := d.Discovered()
		if !ok {
			continue
		}
		b.mu.Lock()
		_, known := b.devices[ed.IEEE]
		b.mu.Unlock()
		if known {
			continue
		}
		b.handleEntities(ed)
		seeded++
	}
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "devices", seeded)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventEntitiesDiscovered:
		if ed, ok := event.Data.(coordinator.EntitiesDiscovered); ok {
			b.handleEntities(ed)
		}
	case coordinator.EventAttributeReport:
		b.handleAttributeReport(event)
	case coordinator.EventZHA:
		b.handleDeviceEvent(event)
	case coordinator.EventDeviceLeft:
		b.handleDeviceLeft(event)
	}
}

func (b *Bridge) handleEntities(ed coordinator.EntitiesDiscovered) {
	dev := &bridgeDevice{
		info: deviceInfo{
			IEEE:         ed.IEEE,
			Name:         ed.Name,
			Manufacturer: ed.Vendor,
			Model:        ed.Model,
		},
		entities: make(map[string]*entity),
		state:    make(map[string]any),
	}
	for _, reqs := range ed.Entities {
		for _, req := range reqs {
			e := newEntity(req)
			dev.entities[e.ObjectID] = e
		}
	}

	b.mu.Lock()
	if prev, ok := b.devices[ed.IEEE]; ok {
		dev.state = prev.state
	}
	b.devices[ed.IEEE] = dev
	b.mu.Unlock()

	b.publishDevice(dev)
}

// publishDevice publishes discovery and subscribes command topics.
func (b *Bridge) publishDevice(dev *bridgeDevice) {
	for _, e := range dev.sortedEntities() {
		msg := buildDiscovery(dev.info, e, b.prefix)
		b.publish(msg.Topic, msg.Payload, true)
		b.subscribeEntity(dev.info.IEEE, e)
	}
	b.logger.Info("published HA discovery", "ieee", dev.info.IEEE, "name", dev.info.displayName(),
		"entities", len(dev.entities))
}

func (b *Bridge) publishAll() {
	b.mu.Lock()
	devs := make([]*bridgeDevice, 0, len(b.devices))
	for _, d := range b.devices {
		devs = append(devs, d)
	}
	b.mu.Unlock()
	for _, d := range devs {
		b.publishDevice(d)
	}
}

func (b *Bridge) subscribeEntity(ieee string, e *entity) {
	if b.subscribe == nil {
		return
	}
	switch e.Platform {
	case "switch", "light", "lock", "button":
	default:
		return
	}
	objectID := e.ObjectID
	b.subscribe(e.commandTopic(b.prefix, ieee), func(payload []byte) {
		b.handleCommand(ieee, objectID, "state", payload)
	})
	if e.levelHandler() != nil {
		b.subscribe(e.brightnessTopic(b.prefix, ieee), func(payload []byte) {
			b.handleCommand(ieee, objectID, "brightness", payload)
		})
	}
}

func (b *Bridge) handleAttributeReport(event coordinator.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	ieee, _ := data["ieee"].(string)
	ep, _ := data["endpoint"].(uint8)
	cluster, _ := data["cluster_id"].(uint16)
	attr, _ := data["attr_name"].(string)

	b.mu.Lock()
	dev, ok := b.devices[ieee]
	if !ok {
		b.mu.Unlock()
		return
	}
	changed := false
	for _, e := range dev.entities {
		key := e.stateKey(ep, cluster, attr)
		if key == "" {
			continue
		}
		dev.state[key] = e.stateValue(key, data["value"])
		changed = true
	}
	if !changed {
		b.mu.Unlock()
		return
	}
	if rec, err := b.coord.Devices().GetDevice(ieee); err == nil {
		dev.state["linkquality"] = rec.LQI
		dev.state["last_seen"] = rec.LastSeen.Format(time.RFC3339)
	}
	payload := mustJSON(dev.state)
	b.mu.Unlock()

	b.publish(stateTopic(b.prefix, ieee), payload, true)
}

// handleDeviceEvent forwards endpoint events (button presses, gestures).
func (b *Bridge) handleDeviceEvent(event coordinator.Event) {
	data, ok := event.Data.(map[string]any)
	if !ok {
		return
	}
	ieee, _ := data["ieee"].(string)
	if ieee == "" {
		return
	}
	b.publish(stateTopic(b.prefix, ieee)+"/event", mustJSON(data), false)
}

func (b *Bridge) handleDeviceLeft(event coordinator.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	ieee, _ := data["ieee"].(string)

	b.mu.Lock()
	dev, ok := b.devices[ieee]
	delete(b.devices, ieee)
	b.mu.Unlock()
	if !ok {
		return
	}

	for _, msg := range buildRemoveDiscovery(ieee, dev.sortedEntities()) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publish(stateTopic(b.prefix, ieee), nil, true)
}

func (b *Bridge) handleCommand(ieee, objectID, kind string, payload []byte) {
	b.mu.Lock()
	var e *entity
	if dev, ok := b.devices[ieee]; ok {
		e = dev.entities[objectID]
	}
	b.mu.Unlock()
	if e == nil || len(e.Handlers) == 0 {
		b.logger.Warn("command for unknown entity", "ieee", ieee, "entity", objectID)
		return
	}

	ctx, cancel := context.WithTimeout(b.coord.Context(), 10*time.Second)
	defer cancel()
	if err := executeCommand(ctx, e, kind, string(payload)); err != nil {
		b.logger.Warn("command failed", "ieee", ieee, "entity", objectID, "err", err)
	}
}

// executeCommand runs an HA command through the entity's handlers.
func executeCommand(ctx context.Context, e *entity, kind, payload string) error {
	payload = strings.TrimSpace(payload)
	if kind == "brightness" {
		l := e.levelHandler()
		if l == nil {
			return fmt.Errorf("entity %s has no level control", e.ObjectID)
		}
		n, err := strconv.Atoi(payload)
		if err != nil {
			return fmt.Errorf("brightness %q: %w", payload, err)
		}
		level := uint8(max(0, min(n, 254)))
		return l.MoveToLevel(ctx, level, 5)
	}

	switch h := e.Handlers[0].(type) {
	case *handlers.OnOff:
		switch strings.ToUpper(payload) {
		case "ON":
			return h.On(ctx)
		case "OFF":
			return h.Off(ctx)
		case "TOGGLE":
			return h.Toggle(ctx)
		}
	case *handlers.DoorLock:
		switch strings.ToUpper(payload) {
		case "LOCK":
			return h.Lock(ctx)
		case "UNLOCK":
			return h.Unlock(ctx)
		}
	case *handlers.Identify:
		if strings.ToUpper(payload) == "PRESS" {
			return h.Identify(ctx, 5)
		}
	default:
		return fmt.Errorf("entity %s does not accept commands", e.ObjectID)
	}
	return fmt.Errorf("unsupported payload %q", payload)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.send == nil {
		return
	}
	b.send(topic, payload, retained)
}
