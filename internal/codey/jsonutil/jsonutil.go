// Package jsonutil centralizes JSON encode/decode behind sonic, matching
// the rest of this codebase's use of a fast JSON implementation instead
// of encoding/json on the hot path (tool-call argument parsing and LLM
// wire payloads are both encoded/decoded per streamed chunk).
package jsonutil

import "github.com/bytedance/sonic"

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalString(v any) (string, error) {
	b, err := api.Marshal(v)
	return string(b), err
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func UnmarshalString(data string, v any) error {
	return api.Unmarshal([]byte(data), v)
}
