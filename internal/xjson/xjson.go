package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// Marshal/Unmarshal wrappers to allow a single import site to switch
// between standard encoding/json and goccy/go-json without touching callers.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return gjson.Valid(data)
}

// Clone deep-copies a value by round-tripping it through JSON. Callers use
// this to hand out state that must not alias the original's slices and maps.
func Clone[T any](v T) (T, error) {
	var out T
	data, err := gjson.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := gjson.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage
