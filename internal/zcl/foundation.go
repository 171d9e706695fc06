package zcl

// ZCL status codes
const (
	StatusSuccess         uint8 = 0x00
	StatusFailure         uint8 = 0x01
	StatusUnsupportedAttr uint8 = 0x86
	StatusInvalidValue    uint8 = 0x87
	StatusReadOnly        uint8 = 0x88
	StatusUnreportable    uint8 = 0x8C
	StatusInvalidDataType uint8 = 0x8D
)

// Profile IDs
const (
	ProfileHomeAutomation uint16 = 0x0104
	ProfileLightLink      uint16 = 0xC05E
)
