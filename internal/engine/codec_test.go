package engine

import (
	"errors"
	"reflect"
	"testing"

	"pocketcache/internal/cache"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
	}{
		{"string", "hello world"},
		{"bytes", []byte{0x01, 0x02, 0xFF}},
		{"int", 42},
		{"negative int", -7},
		{"int32", int32(-12345)},
		{"int64", int64(1) << 40},
		{"uint32", uint32(4000000000)},
		{"uint64", uint64(1) << 63},
		{"float32", float32(3.5)},
		{"float64", 2.718281828},
		{"bool true", true},
		{"bool false", false},
		{"map", map[string]interface{}{"name": "tile-4", "zoom": 12}},
		{"slice", []interface{}{"a", 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, valueType, err := encodeValue(tc.value)
			if err != nil {
				t.Fatalf("encodeValue: %v", err)
			}
			if valueType != reflect.TypeOf(tc.value).String() {
				t.Errorf("valueType = %q, want %q", valueType, reflect.TypeOf(tc.value).String())
			}

			decoded, err := decodeValue(payload)
			if err != nil {
				t.Fatalf("decodeValue: %v", err)
			}
			if !reflect.DeepEqual(decoded, tc.value) {
				t.Errorf("round trip = %#v, want %#v", decoded, tc.value)
			}
		})
	}
}

func TestCodecPreservesEmptyValues(t *testing.T) {
	for _, value := range []interface{}{"", []byte{}} {
		payload, _, err := encodeValue(value)
		if err != nil {
			t.Fatalf("encodeValue(%#v): %v", value, err)
		}
		decoded, err := decodeValue(payload)
		if err != nil {
			t.Fatalf("decodeValue(%#v): %v", value, err)
		}
		if !reflect.DeepEqual(decoded, value) {
			t.Errorf("round trip = %#v, want %#v", decoded, value)
		}
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	if _, _, err := encodeValue(nil); !errors.Is(err, cache.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	if _, err := decodeValue(nil); !errors.Is(err, cache.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
}

func TestDecodeRejectsTruncatedScalar(t *testing.T) {
	payload, _, err := encodeValue(int64(99))
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	if _, err := decodeValue(payload[:4]); !errors.Is(err, cache.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := decodeValue([]byte{0xEE, 0x01}); !errors.Is(err, cache.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
}
