package handlers

import "zigbee-endpoints/internal/zigbee"

// Measurement covers the single-value measurement clusters.
type Measurement struct{ *Base }

func measurement(attr string, minInterval, maxInterval uint16, change int) Constructor {
	return func(c *zigbee.Cluster, owner Owner) ClusterHandler {
		b := NewBase(c, owner)
		b.Reports = []zigbee.ReportConfig{{Attr: attr, Min: minInterval, Max: maxInterval, Change: change}}
		return &Measurement{b}
	}
}

var (
	NewTemperature = measurement("MeasuredValue", 30, 900, 50)
	NewHumidity    = measurement("MeasuredValue", 30, 900, 100)
	NewPressure    = measurement("MeasuredValue", 30, 900, 1)
	NewIlluminance = measurement("MeasuredValue", 10, 900, 5)
	NewOccupancy   = measurement("Occupancy", 0, 900, 1)
)

// Metering reports energy consumption. Multiplier and divisor are read once.
type Metering struct{ *Base }

func NewMetering(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{
		{Attr: "InstantaneousDemand", Min: 5, Max: 900, Change: 1},
		{Attr: "CurrentSummationDelivered", Min: 30, Max: 900, Change: 1},
	}
	b.InitAttrs = []string{"Multiplier", "Divisor"}
	return &Metering{b}
}

// ElectricalMeasurement reports mains voltage, current and power.
type ElectricalMeasurement struct{ *Base }

func NewElectricalMeasurement(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.Reports = []zigbee.ReportConfig{
		{Attr: "ActivePower", Min: 5, Max: 900, Change: 1},
		{Attr: "RMSVoltage", Min: 5, Max: 900, Change: 1},
		{Attr: "RMSCurrent", Min: 5, Max: 900, Change: 1},
	}
	return &ElectricalMeasurement{b}
}
