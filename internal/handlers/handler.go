// Package handlers wraps individual clusters in lifecycle handlers and maps
// cluster ids to handler constructors.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zigbee-endpoints/internal/zigbee"
)

// ClusterHandler drives one cluster instance through the initialize and
// configure stages.
type ClusterHandler interface {
	ID() string
	Name() string
	ClusterID() uint16
	Cluster() *zigbee.Cluster
	Initialize(ctx context.Context, fromCache bool) error
	Configure(ctx context.Context) error
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// AttributeListener is implemented by handlers that react to attribute
// reports after the cluster cache has been updated.
type AttributeListener interface {
	AttributeUpdated(attrID uint16, value any)
}

// Owner is the endpoint a handler belongs to. Handlers hold it without
// owning it.
type Owner interface {
	ID() uint8
	UniqueID() string
	CoordinatorIEEE() [8]byte
	Logger() *slog.Logger
	EmitEvent(payload map[string]any)
}

// HandlerID returns the handler id for a cluster on an endpoint.
func HandlerID(uniqueID string, clusterID uint16) string {
	return fmt.Sprintf("%s:0x%04x", uniqueID, clusterID)
}

// HandlerName returns the symbolic name of the handler wrapping c.
func HandlerName(c *zigbee.Cluster) string {
	if c.EpAttribute != "" {
		return c.EpAttribute
	}
	return fmt.Sprintf("cluster_handler_0x%04x", c.ID)
}

// Base is the generic handler. Concrete handlers embed it and declare what
// configure and initialize should do.
type Base struct {
	cluster *zigbee.Cluster
	owner   Owner
	id      string
	name    string
	logger  *slog.Logger

	// BindCluster binds the cluster to the coordinator during Configure.
	BindCluster bool
	// Reports are configured during Configure.
	Reports []zigbee.ReportConfig
	// InitAttrs are read during Initialize.
	InitAttrs []string
}

// NewBase creates a generic handler for c. The generic handler only binds.
func NewBase(c *zigbee.Cluster, owner Owner) *Base {
	id := HandlerID(owner.UniqueID(), c.ID)
	return &Base{
		cluster:     c,
		owner:       owner,
		id:          id,
		name:        HandlerName(c),
		BindCluster: true,
		logger: owner.Logger().With(
			"handler_id", id,
			"cluster", fmt.Sprintf("0x%04X", c.ID),
			"endpoint", owner.ID(),
		),
	}
}

// NewGeneric is the fallback Constructor.
func NewGeneric(c *zigbee.Cluster, owner Owner) ClusterHandler {
	return NewBase(c, owner)
}

func (b *Base) ID() string               { return b.id }
func (b *Base) Name() string             { return b.name }
func (b *Base) ClusterID() uint16        { return b.cluster.ID }
func (b *Base) Cluster() *zigbee.Cluster { return b.cluster }
func (b *Base) Owner() Owner             { return b.owner }

func (b *Base) Debug(msg string, args ...any) { b.logger.Debug(msg, args...) }
func (b *Base) Warn(msg string, args ...any)  { b.logger.Warn(msg, args...) }

// Configure binds the cluster and sets up reporting. Every step runs; the
// failures are returned together.
func (b *Base) Configure(ctx context.Context) error {
	var errs []error
	if b.BindCluster {
		if err := b.cluster.Bind(ctx, b.owner.CoordinatorIEEE()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rc := range b.Reports {
		if err := b.cluster.ConfigureReporting(ctx, rc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Initialize reads InitAttrs, from the cache when fromCache is set.
func (b *Base) Initialize(ctx context.Context, fromCache bool) error {
	attrs := b.InitAttrs
	for _, rc := range b.Reports {
		attrs = appendUnique(attrs, rc.Attr)
	}
	if len(attrs) == 0 {
		return nil
	}
	_, failed, err := b.cluster.ReadAttributes(ctx, attrs, fromCache)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", b.name, err)
	}
	if len(failed) > 0 {
		b.Debug("attributes not available", "attrs", failed)
	}
	return nil
}

// AttributeUpdated logs the new value.
func (b *Base) AttributeUpdated(attrID uint16, value any) {
	b.Debug("attribute updated", "attr", fmt.Sprintf("0x%04X", attrID), "value", value)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list[:len(list):len(list)], s)
}
