package ncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var (
	// ErrTimeout is returned when the radio bridge does not answer in time.
	ErrTimeout = errors.New("ncp: request timed out")
	// ErrClosed is returned for requests issued or pending when the backend closes.
	ErrClosed = errors.New("ncp: closed")
)

// RemoteError carries an error reported by the radio bridge.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ncp %s: %s", e.Op, e.Message)
}

// RemoteConfig holds the MQTT connection parameters of a RemoteNCP.
type RemoteConfig struct {
	Broker         string
	Username       string
	Password       string
	TopicPrefix    string
	RequestTimeout time.Duration
}

type envelope struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	ID     string          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RemoteNCP implements NCP against a radio bridge reachable over MQTT.
//
// Requests go to <prefix>/request/<op> as {"id","params"} envelopes; the bridge
// answers on <prefix>/response with the same id. Indications arrive on
// <prefix>/event/<kind>. Byte slices travel base64 encoded.
type RemoteNCP struct {
	client  pahomqtt.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	send    func(topic string, payload []byte) error

	mu      sync.Mutex
	pending map[string]chan reply
	done    chan struct{}
	closeMu sync.Once

	hmu        sync.RWMutex
	onAnnounce []func(DeviceAnnounceEvent)
	onLeft     []func(DeviceLeftEvent)
	onReport   []func(AttributeReportEvent)
}

// NewRemoteNCP connects to the broker and subscribes to bridge responses and events.
func NewRemoteNCP(cfg RemoteConfig, logger *slog.Logger) (*RemoteNCP, error) {
	r := newRemote(cfg.TopicPrefix, cfg.RequestTimeout, logger, nil)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zigbee-endpoints-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			r.logger.Info("radio bridge connected", "prefix", r.prefix)
			c.Subscribe(r.prefix+"/response", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
				r.handleReply(msg.Payload())
			})
			c.Subscribe(r.prefix+"/event/+", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
				kind := strings.TrimPrefix(msg.Topic(), r.prefix+"/event/")
				r.handleEvent(kind, msg.Payload())
			})
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			r.logger.Warn("radio bridge connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("ncp connect: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("ncp connect: %w", err)
	}

	r.client = client
	r.send = func(topic string, payload []byte) error {
		t := client.Publish(topic, 1, false, payload)
		if !t.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
		}
		return t.Error()
	}
	return r, nil
}

func newRemote(prefix string, timeout time.Duration, logger *slog.Logger, send func(string, []byte) error) *RemoteNCP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteNCP{
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.With("component", "ncp"),
		send:    send,
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
}

// call publishes one request and waits for the correlated reply.
func (r *RemoteNCP) call(ctx context.Context, op string, params, result any) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	env := envelope{ID: uuid.NewString()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", op, err)
		}
		env.Params = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	ch := make(chan reply, 1)
	r.mu.Lock()
	r.pending[env.ID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, env.ID)
		r.mu.Unlock()
	}()

	if err := r.send(r.prefix+"/request/"+op, payload); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return &RemoteError{Op: op, Message: rep.Error}
		}
		if result != nil && len(rep.Result) > 0 {
			if err := json.Unmarshal(rep.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return ctx.Err()
	}
}

func (r *RemoteNCP) handleReply(payload []byte) {
	var rep reply
	if err := json.Unmarshal(payload, &rep); err != nil {
		r.logger.Warn("invalid bridge response", "err", err)
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[rep.ID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("response for unknown request", "id", rep.ID)
		return
	}
	select {
	case ch <- rep:
	default:
	}
}

func (r *RemoteNCP) handleEvent(kind string, payload []byte) {
	r.hmu.RLock()
	defer r.hmu.RUnlock()

	switch kind {
	case "device_announce":
		var evt DeviceAnnounceEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			r.logger.Warn("invalid announce event", "err", err)
			return
		}
		for _, h := range r.onAnnounce {
			h(evt)
		}
	case "device_left":
		var evt DeviceLeftEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			r.logger.Warn("invalid leave event", "err", err)
			return
		}
		for _, h := range r.onLeft {
			h(evt)
		}
	case "attribute_report":
		var evt AttributeReportEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			r.logger.Warn("invalid attribute report", "err", err)
			return
		}
		for _, h := range r.onReport {
			h(evt)
		}
	default:
		r.logger.Debug("ignoring bridge event", "kind", kind)
	}
}

func (r *RemoteNCP) PermitJoin(ctx context.Context, duration uint8) error {
	return r.call(ctx, "permit_join", map[string]uint8{"duration": duration}, nil)
}

func (r *RemoteNCP) GetLocalIEEE(ctx context.Context) ([8]byte, error) {
	var res struct {
		IEEE [8]byte `json:"ieee"`
	}
	if err := r.call(ctx, "local_ieee", nil, &res); err != nil {
		return [8]byte{}, err
	}
	return res.IEEE, nil
}

func (r *RemoteNCP) ActiveEndpoints(ctx context.Context, shortAddr uint16) ([]uint8, error) {
	var res struct {
		Endpoints []int `json:"endpoints"`
	}
	if err := r.call(ctx, "active_endpoints", map[string]uint16{"short_addr": shortAddr}, &res); err != nil {
		return nil, err
	}
	eps := make([]uint8, 0, len(res.Endpoints))
	for _, ep := range res.Endpoints {
		eps = append(eps, uint8(ep))
	}
	return eps, nil
}

func (r *RemoteNCP) SimpleDescriptor(ctx context.Context, shortAddr uint16, endpoint uint8) (*SimpleDescriptor, error) {
	params := map[string]int{"short_addr": int(shortAddr), "endpoint": int(endpoint)}
	var sd SimpleDescriptor
	if err := r.call(ctx, "simple_descriptor", params, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func (r *RemoteNCP) Bind(ctx context.Context, req BindRequest) error {
	return r.call(ctx, "bind", req, nil)
}

func (r *RemoteNCP) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]AttributeResponse, error) {
	var res struct {
		Attributes []AttributeResponse `json:"attributes"`
	}
	if err := r.call(ctx, "read_attributes", req, &res); err != nil {
		return nil, err
	}
	return res.Attributes, nil
}

func (r *RemoteNCP) WriteAttributes(ctx context.Context, req WriteAttributesRequest) error {
	return r.call(ctx, "write_attributes", req, nil)
}

func (r *RemoteNCP) SendCommand(ctx context.Context, req ClusterCommandRequest) error {
	return r.call(ctx, "command", req, nil)
}

func (r *RemoteNCP) ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) error {
	return r.call(ctx, "configure_reporting", req, nil)
}

func (r *RemoteNCP) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	r.hmu.Lock()
	r.onAnnounce = append(r.onAnnounce, handler)
	r.hmu.Unlock()
}

func (r *RemoteNCP) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	r.hmu.Lock()
	r.onLeft = append(r.onLeft, handler)
	r.hmu.Unlock()
}

func (r *RemoteNCP) OnAttributeReport(handler func(AttributeReportEvent)) {
	r.hmu.Lock()
	r.onReport = append(r.onReport, handler)
	r.hmu.Unlock()
}

// Close fails pending requests with ErrClosed and disconnects from the broker.
func (r *RemoteNCP) Close() error {
	r.closeMu.Do(func() {
		close(r.done)
		if r.client != nil {
			r.client.Disconnect(1000)
		}
	})
	return nil
}
