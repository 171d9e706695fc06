package coordinator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zigbee-endpoints/internal/zcl"
)

// ManufacturerGroup groups device models under one manufacturer name.
type ManufacturerGroup struct {
	Name   string             `json:"name"`
	Models []DeviceDefinition `json:"models"`
}

// DeviceDefinition holds per-model quirks: a friendly name and clusters whose
// endpoint attribute differs from the catalog (vendors reusing a cluster id
// for other semantics).
type DeviceDefinition struct {
	Manufacturer string                `json:"manufacturer"`
	Model        string                `json:"model"`
	FriendlyName string                `json:"friendly_name,omitempty"`
	Overrides    []EpAttributeOverride `json:"ep_attributes,omitempty"`
}

// EpAttributeOverride renames the endpoint attribute of one cluster.
type EpAttributeOverride struct {
	Endpoint    uint8  `json:"endpoint"`
	Cluster     uint16 `json:"cluster"`
	EpAttribute string `json:"ep_attribute"`
}

// EpAttributes returns the overrides for endpoint ep keyed by cluster id.
func (d *DeviceDefinition) EpAttributes(ep uint8) map[uint16]string {
	var out map[uint16]string
	for _, o := range d.Overrides {
		if o.Endpoint != ep {
			continue
		}
		if out == nil {
			out = make(map[uint16]string)
		}
		out[o.Cluster] = o.EpAttribute
	}
	return out
}

// DeviceDB holds device definitions keyed by manufacturer+model.
type DeviceDB struct {
	defs map[string]*DeviceDefinition
}

func deviceKey(manufacturer, model string) string {
	return manufacturer + "\x00" + model
}

// NewDeviceDB creates a device database holding the built-in definitions.
func NewDeviceDB() *DeviceDB {
	db := &DeviceDB{defs: make(map[string]*DeviceDefinition)}
	for _, def := range builtinDevices() {
		db.Add(def)
	}
	return db
}

func builtinDevices() []DeviceDefinition {
	return []DeviceDefinition{
		{
			// Reports vibration, tilt and drop events through the door lock cluster.
			Manufacturer: "LUMI",
			Model:        "lumi.vibration.aq1",
			FriendlyName: "Aqara Vibration Sensor",
			Overrides: []EpAttributeOverride{
				{Endpoint: 1, Cluster: zcl.ClusterDoorLock, EpAttribute: "multistate_input"},
			},
		},
	}
}

// Add inserts a device definition into the database.
func (db *DeviceDB) Add(def DeviceDefinition) {
	cp := def
	db.defs[deviceKey(def.Manufacturer, def.Model)] = &cp
}

// Lookup finds a device definition by manufacturer and model.
func (db *DeviceDB) Lookup(manufacturer, model string) *DeviceDefinition {
	return db.defs[deviceKey(manufacturer, model)]
}

// Len returns the number of device definitions.
func (db *DeviceDB) Len() int {
	return len(db.defs)
}

// deviceFile is the JSON structure for files in the devices directory.
type deviceFile struct {
	Clusters      []zcl.ClusterDef    `json:"clusters,omitempty"`
	Devices       []DeviceDefinition  `json:"devices,omitempty"`
	Manufacturers []ManufacturerGroup `json:"manufacturers,omitempty"`
}

// LoadDeviceDir reads all *.json files from a directory, registering custom
// clusters into the catalog and adding device definitions to the built-in ones.
// A missing or empty directory is not an error.
func LoadDeviceDir(dir string, catalog *zcl.Catalog, logger *slog.Logger) (*DeviceDB, error) {
	db := NewDeviceDB()
	if dir == "" {
		return db, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return db, fmt.Errorf("glob devices dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no device definition files found", "dir", dir)
		return db, nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return db, fmt.Errorf("read %s: %w", path, err)
		}

		var df deviceFile
		if err := json.Unmarshal(data, &df); err != nil {
			return db, fmt.Errorf("parse %s: %w", path, err)
		}

		for _, c := range df.Clusters {
			catalog.Register(c)
		}
		deviceCount := len(df.Devices)
		for _, d := range df.Devices {
			db.Add(d)
		}
		for _, mg := range df.Manufacturers {
			for _, d := range mg.Models {
				d.Manufacturer = mg.Name
				db.Add(d)
			}
			deviceCount += len(mg.Models)
		}
		logger.Info("loaded device file", "path", filepath.Base(path),
			"clusters", len(df.Clusters), "devices", deviceCount)
	}

	logger.Info("device database loaded", "files", len(matches), "devices", db.Len())
	return db, nil
}
