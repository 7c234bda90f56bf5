// Thin wrappers over encoding/json which keep ordereddict key order
// and never HTML-escape. All JSON emitted into the collection
// container goes through here.
package json

import (
	"bytes"
	"encoding/json"
)

func Marshal(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(v)
	if err != nil {
		return nil, err
	}

	// Encode appends a trailing \n - remove it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func MarshalIndent(v interface{}) ([]byte, error) {
	serialized, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	err = json.Indent(buf, serialized, "", "  ")
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func MustMarshalIndent(v interface{}) []byte {
	result, err := MarshalIndent(v)
	if err != nil {
		panic(err)
	}
	return result
}

func Unmarshal(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
