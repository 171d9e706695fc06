package zcl

// Cluster IDs used by the handler registry and discovery rules.
const (
	ClusterBasic                 uint16 = 0x0000
	ClusterPowerConfiguration    uint16 = 0x0001
	ClusterIdentify              uint16 = 0x0003
	ClusterGroups                uint16 = 0x0004
	ClusterScenes                uint16 = 0x0005
	ClusterOnOff                 uint16 = 0x0006
	ClusterLevelControl          uint16 = 0x0008
	ClusterMultistateInput       uint16 = 0x0012
	ClusterOTA                   uint16 = 0x0019
	ClusterPollControl           uint16 = 0x0020
	ClusterDoorLock              uint16 = 0x0101
	ClusterColorControl          uint16 = 0x0300
	ClusterIlluminance           uint16 = 0x0400
	ClusterTemperature           uint16 = 0x0402
	ClusterPressure              uint16 = 0x0403
	ClusterHumidity              uint16 = 0x0405
	ClusterOccupancy             uint16 = 0x0406
	ClusterIASZone               uint16 = 0x0500
	ClusterMetering              uint16 = 0x0702
	ClusterElectricalMeasurement uint16 = 0x0B04
	ClusterDiagnostics           uint16 = 0x0B05
)

const rr = AccessRead | AccessReport

// StandardClusters returns the built-in cluster definitions.
func StandardClusters() []ClusterDef {
	return []ClusterDef{
		{ID: ClusterBasic, Name: "Basic", EpAttribute: "basic", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "ZCLVersion", Type: TypeUint8, Access: AccessRead},
			{ID: 0x0004, Name: "ManufacturerName", Type: TypeCharStr, Access: AccessRead},
			{ID: 0x0005, Name: "ModelIdentifier", Type: TypeCharStr, Access: AccessRead},
			{ID: 0x0007, Name: "PowerSource", Type: TypeEnum8, Access: AccessRead},
			{ID: 0x4000, Name: "SWBuildID", Type: TypeCharStr, Access: AccessRead},
		}},
		{ID: ClusterPowerConfiguration, Name: "Power Configuration", EpAttribute: "power", Attributes: []AttributeDef{
			{ID: 0x0020, Name: "BatteryVoltage", Type: TypeUint8, Access: rr},
			{ID: 0x0021, Name: "BatteryPercentageRemaining", Type: TypeUint8, Access: rr},
			{ID: 0x0031, Name: "BatterySize", Type: TypeEnum8, Access: AccessRead},
			{ID: 0x0033, Name: "BatteryQuantity", Type: TypeUint8, Access: AccessRead},
		}},
		{ID: ClusterIdentify, Name: "Identify", EpAttribute: "identify", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "IdentifyTime", Type: TypeUint16, Access: AccessRead | AccessWrite},
		}, Commands: []CommandDef{
			{ID: 0x00, Name: "Identify", Direction: DirectionToServer},
			{ID: 0x40, Name: "TriggerEffect", Direction: DirectionToServer},
		}},
		{ID: ClusterGroups, Name: "Groups", EpAttribute: "groups"},
		{ID: ClusterScenes, Name: "Scenes", EpAttribute: "scenes"},
		{ID: ClusterOnOff, Name: "On/Off", EpAttribute: "on_off", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "OnOff", Type: TypeBool, Access: rr},
			{ID: 0x4003, Name: "StartUpOnOff", Type: TypeEnum8, Access: AccessRead | AccessWrite},
		}, Commands: []CommandDef{
			{ID: 0x00, Name: "Off", Direction: DirectionToServer},
			{ID: 0x01, Name: "On", Direction: DirectionToServer},
			{ID: 0x02, Name: "Toggle", Direction: DirectionToServer},
		}},
		{ID: ClusterLevelControl, Name: "Level Control", EpAttribute: "level", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "CurrentLevel", Type: TypeUint8, Access: rr},
		}, Commands: []CommandDef{
			{ID: 0x04, Name: "MoveToLevelWithOnOff", Direction: DirectionToServer},
		}},
		{ID: ClusterMultistateInput, Name: "Multistate Input (Basic)", EpAttribute: "multistate_input", Attributes: []AttributeDef{
			{ID: 0x004A, Name: "NumberOfStates", Type: TypeUint16, Access: AccessRead},
			{ID: 0x0055, Name: "PresentValue", Type: TypeUint16, Access: rr},
		}},
		{ID: ClusterOTA, Name: "OTA Upgrade", EpAttribute: "ota", Attributes: []AttributeDef{
			{ID: 0x0002, Name: "CurrentFileVersion", Type: TypeUint32, Access: AccessRead},
		}},
		{ID: ClusterPollControl, Name: "Poll Control", EpAttribute: "poll_control", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "CheckInInterval", Type: TypeUint32, Access: AccessRead | AccessWrite},
		}},
		{ID: ClusterDoorLock, Name: "Door Lock", EpAttribute: "door_lock", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "LockState", Type: TypeEnum8, Access: rr},
			{ID: 0x0003, Name: "DoorState", Type: TypeEnum8, Access: rr},
		}, Commands: []CommandDef{
			{ID: 0x00, Name: "LockDoor", Direction: DirectionToServer},
			{ID: 0x01, Name: "UnlockDoor", Direction: DirectionToServer},
		}},
		{ID: ClusterColorControl, Name: "Color Control", EpAttribute: "light_color", Attributes: []AttributeDef{
			{ID: 0x0007, Name: "ColorTemperatureMireds", Type: TypeUint16, Access: rr},
			{ID: 0x400A, Name: "ColorCapabilities", Type: TypeBitmap16, Access: AccessRead},
		}},
		{ID: ClusterIlluminance, Name: "Illuminance Measurement", EpAttribute: "illuminance", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16, Access: rr},
		}},
		{ID: ClusterTemperature, Name: "Temperature Measurement", EpAttribute: "temperature", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16, Access: rr},
		}},
		{ID: ClusterPressure, Name: "Pressure Measurement", EpAttribute: "pressure", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16, Access: rr},
		}},
		{ID: ClusterHumidity, Name: "Relative Humidity Measurement", EpAttribute: "humidity", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16, Access: rr},
		}},
		{ID: ClusterOccupancy, Name: "Occupancy Sensing", EpAttribute: "occupancy", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "Occupancy", Type: TypeBitmap8, Access: rr},
		}},
		{ID: ClusterIASZone, Name: "IAS Zone", EpAttribute: "ias_zone", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "ZoneState", Type: TypeEnum8, Access: AccessRead},
			{ID: 0x0001, Name: "ZoneType", Type: TypeEnum16, Access: AccessRead},
			{ID: 0x0002, Name: "ZoneStatus", Type: TypeBitmap16, Access: AccessRead},
			{ID: 0x0010, Name: "IASCIEAddress", Type: TypeEUI64, Access: AccessRead | AccessWrite},
			{ID: 0x0011, Name: "ZoneID", Type: TypeUint8, Access: AccessRead},
		}, Commands: []CommandDef{
			{ID: 0x00, Name: "ZoneEnrollResponse", Direction: DirectionToServer},
		}},
		{ID: ClusterMetering, Name: "Metering", EpAttribute: "smartenergy_metering", Attributes: []AttributeDef{
			{ID: 0x0000, Name: "CurrentSummationDelivered", Type: TypeUint48, Access: rr},
			{ID: 0x0301, Name: "Multiplier", Type: TypeUint24, Access: AccessRead},
			{ID: 0x0302, Name: "Divisor", Type: TypeUint24, Access: AccessRead},
			{ID: 0x0400, Name: "InstantaneousDemand", Type: TypeInt24, Access: rr},
		}},
		{ID: ClusterElectricalMeasurement, Name: "Electrical Measurement", EpAttribute: "electrical_measurement", Attributes: []AttributeDef{
			{ID: 0x0505, Name: "RMSVoltage", Type: TypeUint16, Access: rr},
			{ID: 0x0508, Name: "RMSCurrent", Type: TypeUint16, Access: rr},
			{ID: 0x050B, Name: "ActivePower", Type: TypeInt16, Access: rr},
		}},
		{ID: ClusterDiagnostics, Name: "Diagnostics", EpAttribute: "diagnostic"},
	}
}
