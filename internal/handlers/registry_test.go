package handlers

import (
	"testing"

	"zigbee-endpoints/internal/ncp/ncptest"
	"zigbee-endpoints/internal/zcl"
)

func TestLookupServer(t *testing.T) {
	reg := DefaultRegistry()
	owner := &testOwner{}

	tests := []struct {
		name        string
		cluster     uint16
		epAttribute string // "" keeps the catalog value
		want        string
	}{
		{"registered", zcl.ClusterOnOff, "", "*handlers.OnOff"},
		{"unregistered falls back", zcl.ClusterDiagnostics, "", "*handlers.Base"},
		{"unknown cluster falls back", 0xFC00, "", "*handlers.Base"},
		{"door lock matches", zcl.ClusterDoorLock, "", "*handlers.DoorLock"},
		{"door lock override", zcl.ClusterDoorLock, "multistate_input", "*handlers.MultistateInput"},
		{"measurement", zcl.ClusterTemperature, "", "*handlers.Measurement"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCluster(ncptest.New(), tt.cluster)
			if tt.epAttribute != "" {
				c.EpAttribute = tt.epAttribute
			}
			h := reg.LookupServer(c, owner)(c, owner)
			if got := typeName(h); got != tt.want {
				t.Errorf("handler = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPredicateRejectionWithoutOverride(t *testing.T) {
	reg := DefaultRegistry()
	reg.overrides = nil
	owner := &testOwner{}

	c := testCluster(ncptest.New(), zcl.ClusterDoorLock)
	c.EpAttribute = "multistate_input"
	h := reg.LookupServer(c, owner)(c, owner)
	if got := typeName(h); got != "*handlers.Base" {
		t.Errorf("handler = %s, want generic", got)
	}
	if h.Name() != "multistate_input" {
		t.Errorf("name = %q", h.Name())
	}
}

func TestOverrideOnlyForExactCombination(t *testing.T) {
	reg := DefaultRegistry()

	c := testCluster(ncptest.New(), zcl.ClusterOnOff)
	c.EpAttribute = "multistate_input"
	if _, ok := reg.OverrideFor(c); ok {
		t.Error("override matched a different cluster id")
	}

	c = testCluster(ncptest.New(), zcl.ClusterDoorLock)
	o, ok := reg.OverrideFor(c)
	if ok {
		t.Errorf("override %q matched door lock with its own attribute", o.Name)
	}
}

func TestClientTableIsCopy(t *testing.T) {
	reg := DefaultRegistry()
	table := reg.ClientTable()
	for _, id := range []uint16{zcl.ClusterOnOff, zcl.ClusterLevelControl, zcl.ClusterScenes, zcl.ClusterOTA} {
		if table[id] == nil {
			t.Errorf("client table missing 0x%04X", id)
		}
	}
	if table[zcl.ClusterBasic] != nil {
		t.Error("basic should have no client handler")
	}
	delete(table, zcl.ClusterOnOff)
	if reg.ClientTable()[zcl.ClusterOnOff] == nil {
		t.Error("mutating the copy changed the registry")
	}
}

func TestEmptyRegistryIsGeneric(t *testing.T) {
	reg := NewRegistry()
	owner := &testOwner{}
	c := testCluster(ncptest.New(), zcl.ClusterBasic)
	if got := typeName(reg.LookupServer(c, owner)(c, owner)); got != "*handlers.Base" {
		t.Errorf("handler = %s, want generic", got)
	}
	if len(reg.ClientTable()) != 0 {
		t.Error("empty registry has client constructors")
	}
}

func typeName(h ClusterHandler) string {
	switch h.(type) {
	case *Base:
		return "*handlers.Base"
	case *OnOff:
		return "*handlers.OnOff"
	case *DoorLock:
		return "*handlers.DoorLock"
	case *MultistateInput:
		return "*handlers.MultistateInput"
	case *Measurement:
		return "*handlers.Measurement"
	}
	return "other"
}
