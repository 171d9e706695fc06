package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData    uint8 = 0x00
	TypeBool      uint8 = 0x10
	TypeBitmap8   uint8 = 0x18
	TypeBitmap16  uint8 = 0x19
	TypeUint8     uint8 = 0x20
	TypeUint16    uint8 = 0x21
	TypeUint24    uint8 = 0x22
	TypeUint32    uint8 = 0x23
	TypeUint48    uint8 = 0x25
	TypeInt8      uint8 = 0x28
	TypeInt16     uint8 = 0x29
	TypeInt24     uint8 = 0x2A
	TypeInt32     uint8 = 0x2B
	TypeEnum8     uint8 = 0x30
	TypeEnum16    uint8 = 0x31
	TypeFloat32   uint8 = 0x39
	TypeOctetStr  uint8 = 0x41
	TypeCharStr   uint8 = 0x42
	TypeUTC       uint8 = 0xE2
	TypeClusterID uint8 = 0xE8
	TypeAttrID    uint8 = 0xE9
	TypeEUI64     uint8 = 0xF0
)

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed and unknown types.
func TypeSize(typeID uint8) int {
	switch typeID {
	case TypeNoData:
		return 0
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8:
		return 1
	case TypeUint16, TypeInt16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID:
		return 2
	case TypeUint24, TypeInt24:
		return 3
	case TypeUint32, TypeInt32, TypeFloat32, TypeUTC:
		return 4
	case TypeUint48:
		return 6
	case TypeEUI64:
		return 8
	default:
		return -1
	}
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go value and bytes consumed.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	size := TypeSize(typeID)
	if size == 0 {
		return nil, 0, nil
	}
	if size < 0 {
		return decodeString(typeID, data)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: not enough data for type 0x%02X: need %d, have %d", typeID, size, len(data))
	}

	switch typeID {
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return data[0], 1, nil
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID:
		return binary.LittleEndian.Uint16(data), 2, nil
	case TypeUint24:
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16, 3, nil
	case TypeInt24:
		v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
		if v&0x800000 != 0 {
			v |= 0xFF000000
		}
		return int32(v), 3, nil
	case TypeUint32, TypeUTC:
		return binary.LittleEndian.Uint32(data), 4, nil
	case TypeUint48:
		var v uint64
		for i := 5; i >= 0; i-- {
			v = v<<8 | uint64(data[i])
		}
		return v, 6, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeEUI64:
		var addr [8]byte
		copy(addr[:], data[:8])
		return addr, 8, nil
	}
	return data[:size], size, nil
}

func decodeString(typeID uint8, data []byte) (interface{}, int, error) {
	if typeID != TypeCharStr && typeID != TypeOctetStr {
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("zcl: no length byte for string type")
	}
	length := int(data[0])
	if length == 0xFF {
		return nil, 1, nil
	}
	if len(data) < 1+length {
		return nil, 0, fmt.Errorf("zcl: string truncated: need %d, have %d", length, len(data)-1)
	}
	if typeID == TypeCharStr {
		return string(data[1 : 1+length]), 1 + length, nil
	}
	b := make([]byte, length)
	copy(b, data[1:1+length])
	return b, 1 + length, nil
}

// EncodeValue encodes a Go value into ZCL wire format.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	switch typeID {
	case TypeBool:
		v, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeUint8, TypeEnum8, TypeBitmap8:
		v, err := unsigned(val, math.MaxUint8)
		if err != nil {
			return nil, err
		}
		return []byte{uint8(v)}, nil

	case TypeUint16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID:
		v, err := unsigned(val, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(v)), nil

	case TypeUint32, TypeUTC:
		v, err := unsigned(val, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(v)), nil

	case TypeInt8:
		v, err := signed(val, math.MinInt8, math.MaxInt8)
		if err != nil {
			return nil, err
		}
		return []byte{byte(int8(v))}, nil

	case TypeInt16:
		v, err := signed(val, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(int16(v))), nil

	case TypeInt32:
		v, err := signed(val, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(int32(v))), nil

	case TypeEUI64:
		switch a := val.(type) {
		case [8]byte:
			return append([]byte(nil), a[:]...), nil
		case []byte:
			if len(a) != 8 {
				return nil, fmt.Errorf("zcl: EUI64 requires 8 bytes, got %d", len(a))
			}
			return append([]byte(nil), a...), nil
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to EUI64", val)

	case TypeCharStr:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		if len(s) > 254 {
			return nil, fmt.Errorf("zcl: string too long for CharStr: %d (max 254)", len(s))
		}
		return append([]byte{uint8(len(s))}, s...), nil
	}
	return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
}

func unsigned(v interface{}, max uint64) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case int:
		if n < 0 {
			return 0, fmt.Errorf("zcl: negative value %d for unsigned type", n)
		}
		u = uint64(n)
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("zcl: negative value %v for unsigned type", n)
		}
		u = uint64(n)
	default:
		return 0, fmt.Errorf("zcl: cannot convert %T to unsigned", v)
	}
	if u > max {
		return 0, fmt.Errorf("zcl: value %d overflows (max %d)", u, max)
	}
	return u, nil
}

func signed(v interface{}, min, max int64) (int64, error) {
	var i int64
	switch n := v.(type) {
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case int:
		i = int64(n)
	case float64:
		i = int64(n)
	default:
		return 0, fmt.Errorf("zcl: cannot convert %T to signed", v)
	}
	if i < min || i > max {
		return 0, fmt.Errorf("zcl: value %d out of range %d..%d", i, min, max)
	}
	return i, nil
}
