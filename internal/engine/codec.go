package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"reflect"

	"pocketcache/internal/cache"
)

// Payload kind tags. The tag travels with the serialized bytes so a
// payload always decodes as the type it was stored as, even when the
// index metadata lags behind a concurrent overwrite.
const (
	kindString  byte = 0x01
	kindBytes   byte = 0x02
	kindInt     byte = 0x03
	kindInt32   byte = 0x04
	kindInt64   byte = 0x05
	kindUint32  byte = 0x06
	kindUint64  byte = 0x07
	kindFloat32 byte = 0x08
	kindFloat64 byte = 0x09
	kindBool    byte = 0x0A
	kindGob     byte = 0x0B
)

func init() {
	// Composite values fall back to gob, which needs the common shapes
	// decoded JSON ends up in registered ahead of time.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(map[string]string{})
}

// encodeValue serializes a value into a self-describing payload and
// returns the Go type name recorded in the entry metadata. Scalars,
// strings and byte slices use fixed-width little-endian layouts;
// everything else goes through gob.
func encodeValue(value interface{}) ([]byte, string, error) {
	if value == nil {
		return nil, "", fmt.Errorf("%w: cannot store nil value", cache.ErrSerialization)
	}
	valueType := reflect.TypeOf(value).String()

	var payload []byte
	switch v := value.(type) {
	case []byte:
		payload = make([]byte, 1+len(v))
		payload[0] = kindBytes
		copy(payload[1:], v)
	case string:
		payload = make([]byte, 1+len(v))
		payload[0] = kindString
		copy(payload[1:], v)
	case int:
		payload = make([]byte, 9)
		payload[0] = kindInt
		binary.LittleEndian.PutUint64(payload[1:], uint64(v))
	case int32:
		payload = make([]byte, 5)
		payload[0] = kindInt32
		binary.LittleEndian.PutUint32(payload[1:], uint32(v))
	case int64:
		payload = make([]byte, 9)
		payload[0] = kindInt64
		binary.LittleEndian.PutUint64(payload[1:], uint64(v))
	case uint32:
		payload = make([]byte, 5)
		payload[0] = kindUint32
		binary.LittleEndian.PutUint32(payload[1:], v)
	case uint64:
		payload = make([]byte, 9)
		payload[0] = kindUint64
		binary.LittleEndian.PutUint64(payload[1:], v)
	case float32:
		payload = make([]byte, 5)
		payload[0] = kindFloat32
		binary.LittleEndian.PutUint32(payload[1:], math.Float32bits(v))
	case float64:
		payload = make([]byte, 9)
		payload[0] = kindFloat64
		binary.LittleEndian.PutUint64(payload[1:], math.Float64bits(v))
	case bool:
		payload = make([]byte, 2)
		payload[0] = kindBool
		if v {
			payload[1] = 1
		}
	default:
		var buf bytes.Buffer
		buf.WriteByte(kindGob)
		if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
			return nil, "", errors.Join(cache.ErrSerialization, err)
		}
		payload = buf.Bytes()
	}

	return payload, valueType, nil
}

// decodeValue reverses encodeValue.
func decodeValue(payload []byte) (interface{}, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", cache.ErrSerialization)
	}
	kind, data := payload[0], payload[1:]

	switch kind {
	case kindBytes:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case kindString:
		return string(data), nil
	case kindInt:
		if len(data) != 8 {
			return nil, decodeLengthError("int", 8, len(data))
		}
		return int(binary.LittleEndian.Uint64(data)), nil
	case kindInt32:
		if len(data) != 4 {
			return nil, decodeLengthError("int32", 4, len(data))
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case kindInt64:
		if len(data) != 8 {
			return nil, decodeLengthError("int64", 8, len(data))
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	case kindUint32:
		if len(data) != 4 {
			return nil, decodeLengthError("uint32", 4, len(data))
		}
		return binary.LittleEndian.Uint32(data), nil
	case kindUint64:
		if len(data) != 8 {
			return nil, decodeLengthError("uint64", 8, len(data))
		}
		return binary.LittleEndian.Uint64(data), nil
	case kindFloat32:
		if len(data) != 4 {
			return nil, decodeLengthError("float32", 4, len(data))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case kindFloat64:
		if len(data) != 8 {
			return nil, decodeLengthError("float64", 8, len(data))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case kindBool:
		if len(data) != 1 {
			return nil, decodeLengthError("bool", 1, len(data))
		}
		return data[0] == 1, nil
	case kindGob:
		var value interface{}
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
			return nil, errors.Join(cache.ErrSerialization, err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind 0x%02X", cache.ErrSerialization, kind)
	}
}

func decodeLengthError(typeName string, want, got int) error {
	return fmt.Errorf("%w: %s payload is %d bytes, want %d", cache.ErrSerialization, typeName, got, want)
}
