package ack

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// attempt tries one interpretation of an envelope.
type attempt func(envelope map[string]any) (map[string]any, bool)

// parseChain is tried in order; the first interpretable form wins.
var parseChain = []attempt{
	direct,
	payloadString,
	wrapperKeys,
}

var wrapperKeyNames = []string{"message", "data", "body"}

// Decode turns raw transport bytes into an envelope. Bytes that are not a
// JSON object are carried as {"payload": <string>}.
func Decode(raw []byte) map[string]any {
	if obj, ok := decodeObject(raw); ok {
		return obj
	}
	return map[string]any{"payload": string(raw)}
}

// Unwrap applies the parse chain to envelope, falling back to the envelope
// itself.
func Unwrap(envelope map[string]any) map[string]any {
	for _, try := range parseChain {
		if m, ok := try(envelope); ok {
			return m
		}
	}
	return envelope
}

func direct(env map[string]any) (map[string]any, bool) {
	_, hasDevice := env["device_id"]
	_, hasCommand := env["command_id"]
	_, hasStatus := env["status"]
	return env, hasDevice && hasCommand && hasStatus
}

func payloadString(env map[string]any) (map[string]any, bool) {
	s, ok := env["payload"].(string)
	if !ok {
		return nil, false
	}
	return decodeText(s)
}

func wrapperKeys(env map[string]any) (map[string]any, bool) {
	for _, key := range wrapperKeyNames {
		switch v := env[key].(type) {
		case map[string]any:
			return v, true
		case string:
			if m, ok := decodeText(v); ok {
				return m, true
			}
		}
	}
	return nil, false
}

// decodeText reads s as a JSON object, then as base64 encoded JSON.
func decodeText(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if m, ok := decodeObject([]byte(s)); ok {
		return m, true
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if m, ok := decodeObject(raw); ok {
			return m, true
		}
	}
	return nil, false
}

func decodeObject(raw []byte) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
