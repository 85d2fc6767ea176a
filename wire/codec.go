package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		NilContainers: cbor.NilContainerAsEmpty,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	// Generic decoding yields JSON-like shapes: string keyed maps and []any.
	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Values decoded into an interface use
// map[string]any for maps.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Peek returns the "type" field of an envelope without decoding the rest.
func Peek(data []byte) (string, error) {
	var head struct {
		Type string `cbor:"type"`
	}
	if err := decMode.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}
