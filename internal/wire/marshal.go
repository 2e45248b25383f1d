package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

const maxRepresentationLen = 1000

// Marshal normalizes v and encodes it as JSON.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(Normalize(v))
	if err != nil {
		return nil, fmt.Errorf("encoding normalized value: %w", err)
	}
	return data, nil
}

// SafeMarshal is Marshal that cannot fail. When encoding is impossible it
// returns a small JSON document describing the value instead.
func SafeMarshal(v any) []byte {
	data, err := Marshal(v)
	if err == nil {
		return data
	}
	slog.Error("serialization failed", "type", fmt.Sprintf("%T", v), "error", err)

	fallback := NewMap()
	fallback.Set("error", "Serialization failed")
	fallback.Set("type", fmt.Sprintf("%T", v))
	fallback.Set("string_representation", truncate(opaque(v), maxRepresentationLen))
	data, err = json.Marshal(fallback)
	if err != nil {
		return []byte(`{"error":"Serialization failed"}`)
	}
	return data
}

// SerializationError is the payload returned to a caller when a job's stored
// result cannot be rendered.
func SerializationError(jobID string, cause error) []byte {
	payload := NewMap()
	payload.Set("error", "serialization error")
	payload.Set("job_id", jobID)
	detail := "result could not be serialized"
	if cause != nil {
		detail = cause.Error()
	}
	payload.Set("detail", detail)
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"error":"serialization error"}`)
	}
	return data
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
