package zcl

import (
	"fmt"
	"log/slog"
	"sync"
)

// Catalog holds all known ZCL cluster definitions.
type Catalog struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	return &Catalog{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
}

// NewStandardCatalog creates a catalog preloaded with StandardClusters.
func NewStandardCatalog(logger *slog.Logger) *Catalog {
	c := NewCatalog(logger)
	for _, def := range StandardClusters() {
		c.Register(def)
	}
	return c
}

// Register adds a cluster definition, merging into an existing one with the same ID.
func (c *Catalog) Register(def ClusterDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.clusters[def.ID]; ok {
		existing.Merge(&def)
		c.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", def.ID), "name", existing.Name)
		return
	}
	c.clusters[def.ID] = def.DeepCopy()
	c.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", def.ID), "name", def.Name)
}

// Get returns a deep copy of a cluster definition, or nil if not found.
func (c *Catalog) Get(id uint16) *ClusterDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def := c.clusters[id]
	if def == nil {
		return nil
	}
	return def.DeepCopy()
}

// EpAttribute returns the endpoint attribute name of a cluster, or "" for unknown clusters.
func (c *Catalog) EpAttribute(id uint16) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if def := c.clusters[id]; def != nil {
		return def.EpAttribute
	}
	return ""
}

// All returns deep copies of every registered definition.
func (c *Catalog) All() []ClusterDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]ClusterDef, 0, len(c.clusters))
	for _, def := range c.clusters {
		result = append(result, *def.DeepCopy())
	}
	return result
}
