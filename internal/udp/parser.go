package udp

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	apperrors "github.com/fleetsense/telemetry/pkg/errors"
)

// ParsePacket decodes a raw datagram into a JSON object using a chain of
// progressively more permissive fallbacks:
//
//  1. strict UTF-8 decode, then direct JSON decode
//  2. lossy UTF-8 decode (invalid bytes replaced), then JSON decode
//  3. substring from the first '{' to the last '}', then JSON decode
//  4. single quotes replaced with double quotes, then JSON decode
//
// A leading byte-order mark is always stripped. After the last fallback the
// datagram is reported undecodable with the sender identity and dropped.
func ParsePacket(data []byte, sender string) (map[string]interface{}, error) {
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		text = strings.ToValidUTF8(string(data), "\uFFFD")
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "\uFEFF"))

	if payload, err := decodeObject(text); err == nil {
		return payload, nil
	}

	if candidate := extractJSONCandidate(text); candidate != text {
		if payload, err := decodeObject(candidate); err == nil {
			return payload, nil
		}
	}

	payload, err := decodeObject(strings.ReplaceAll(text, "'", `"`))
	if err != nil {
		return nil, apperrors.Parse(sender, err)
	}
	return payload, nil
}

func decodeObject(s string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// extractJSONCandidate cuts out the outermost JSON object, useful when the
// payload carries garbage before or after the braces
func extractJSONCandidate(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
