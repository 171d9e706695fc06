package zigbee

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/ncp/ncptest"
	"zigbee-endpoints/internal/zcl"
)

var testIEEE = [8]byte{0x00, 0x15, 0x8D, 0x00, 0x01, 0x2A, 0x3B, 0x4C}

func testCatalog() *zcl.Catalog {
	return zcl.NewStandardCatalog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func basicCluster(f *ncptest.Fake) *Cluster {
	def := testCatalog().Get(zcl.ClusterBasic)
	return NewCluster(f, def, zcl.ClusterBasic, Addr{IEEE: testIEEE, NWK: 0x1234, Endpoint: 1}, true)
}

func TestReadAttributesDecodesAndCaches(t *testing.T) {
	f := ncptest.New()
	f.SetAttr(zcl.ClusterBasic, 0x0004, zcl.TypeCharStr, []byte{4, 'L', 'U', 'M', 'I'})
	c := basicCluster(f)

	values, failed, err := c.ReadAttributes(context.Background(), []string{"ManufacturerName", "ModelIdentifier"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if values["ManufacturerName"] != "LUMI" {
		t.Errorf("ManufacturerName = %v", values["ManufacturerName"])
	}
	if len(failed) != 1 || failed[0] != "ModelIdentifier" {
		t.Errorf("failed = %v, want [ModelIdentifier]", failed)
	}
	if v, ok := c.Cached("ManufacturerName"); !ok || v != "LUMI" {
		t.Errorf("cache = %v, %v", v, ok)
	}
}

func TestReadAttributesOnlyCacheSkipsRadio(t *testing.T) {
	f := ncptest.New()
	c := basicCluster(f)
	c.UpdateCache(0x0004, "IKEA")

	values, failed, err := c.ReadAttributes(context.Background(), []string{"ManufacturerName"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if values["ManufacturerName"] != "IKEA" || len(failed) != 0 {
		t.Errorf("values = %v failed = %v", values, failed)
	}
	if n := len(f.CallsFor("read_attributes")); n != 0 {
		t.Errorf("radio reads = %d, want 0", n)
	}

	// A miss is reported as failed and still does not reach the device.
	values, failed, err = c.ReadAttributes(context.Background(), []string{"ManufacturerName", "ModelIdentifier"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if values["ManufacturerName"] != "IKEA" || len(failed) != 1 || failed[0] != "ModelIdentifier" {
		t.Errorf("values = %v failed = %v, want ModelIdentifier failed", values, failed)
	}
	if n := len(f.CallsFor("read_attributes")); n != 0 {
		t.Errorf("radio reads after miss = %d, want 0", n)
	}

	// Without onlyCache the device is asked even if a value is cached.
	if _, _, err := c.ReadAttributes(context.Background(), []string{"ManufacturerName"}, false); err != nil {
		t.Fatal(err)
	}
	if n := len(f.CallsFor("read_attributes")); n != 1 {
		t.Errorf("radio reads = %d, want 1", n)
	}
}

func TestReadAttributesUnknownName(t *testing.T) {
	c := basicCluster(ncptest.New())
	if _, _, err := c.ReadAttributes(context.Background(), []string{"Bogus"}, false); err == nil {
		t.Fatal("expected error for unknown attribute")
	}
}

func TestClusterBackendErrorsWrapped(t *testing.T) {
	f := ncptest.New()
	boom := errors.New("boom")
	f.Errs["bind"] = boom
	c := basicCluster(f)

	if err := c.Bind(context.Background(), [8]byte{}); !errors.Is(err, boom) {
		t.Errorf("Bind err = %v, want wrapped boom", err)
	}
}

func TestConfigureReportingEncodesChange(t *testing.T) {
	f := ncptest.New()
	def := testCatalog().Get(zcl.ClusterTemperature)
	c := NewCluster(f, def, zcl.ClusterTemperature, Addr{NWK: 0x1111, Endpoint: 1}, true)

	err := c.ConfigureReporting(context.Background(), ReportConfig{Attr: "MeasuredValue", Min: 30, Max: 900, Change: 50})
	if err != nil {
		t.Fatal(err)
	}
	calls := f.CallsFor("configure_reporting")
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0].Req.(ncp.ConfigureReportingRequest)
	if req.MinInterval != 30 || req.MaxInterval != 900 || req.DataType != zcl.TypeInt16 {
		t.Errorf("req = %+v", req)
	}
	if len(req.ReportChange) != 2 || req.ReportChange[0] != 50 {
		t.Errorf("report change = %v", req.ReportChange)
	}
}

func TestWriteAttributeCaches(t *testing.T) {
	f := ncptest.New()
	def := testCatalog().Get(zcl.ClusterIASZone)
	c := NewCluster(f, def, zcl.ClusterIASZone, Addr{NWK: 0x2222, Endpoint: 1}, true)

	if err := c.WriteAttribute(context.Background(), "IASCIEAddress", testIEEE); err != nil {
		t.Fatal(err)
	}
	if v, ok := c.Cached("IASCIEAddress"); !ok || v != testIEEE {
		t.Errorf("cached = %v, %v", v, ok)
	}
	req := f.CallsFor("write_attributes")[0].Req.(ncp.WriteAttributesRequest)
	if len(req.Records) != 1 || len(req.Records[0].Value) != 8 {
		t.Errorf("records = %+v", req.Records)
	}
}

func TestNewEndpoint(t *testing.T) {
	profile := zcl.ProfileHomeAutomation
	sd := ncp.SimpleDescriptor{
		Endpoint:    1,
		ProfileID:   &profile,
		InClusters:  []uint16{zcl.ClusterBasic, zcl.ClusterDoorLock, 0xFC00},
		OutClusters: []uint16{zcl.ClusterOTA},
	}
	ep := NewEndpoint(ncptest.New(), testCatalog(), testIEEE, 0x1234, sd, map[uint16]string{zcl.ClusterDoorLock: "multistate_input"})

	if ep.ID != 1 || *ep.ProfileID != profile || ep.DeviceType != nil {
		t.Errorf("endpoint = %+v", ep)
	}
	if len(ep.InClusters) != 3 || len(ep.OutClusters) != 1 {
		t.Fatalf("in = %d out = %d", len(ep.InClusters), len(ep.OutClusters))
	}
	if got := ep.InClusters[zcl.ClusterDoorLock].EpAttribute; got != "multistate_input" {
		t.Errorf("door lock ep attribute = %q", got)
	}
	if got := ep.InClusters[zcl.ClusterBasic].EpAttribute; got != "basic" {
		t.Errorf("basic ep attribute = %q", got)
	}
	unknown := ep.InClusters[0xFC00]
	if unknown.Def != nil || unknown.EpAttribute != "" || unknown.Name() != "0xFC00" {
		t.Errorf("unknown cluster = %+v", unknown)
	}
	if ep.OutClusters[zcl.ClusterOTA].IsServer {
		t.Error("output cluster marked as server")
	}
}
