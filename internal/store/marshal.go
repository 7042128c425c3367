package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tapwire/internal/ir"
)

// marshalEvent converts an event to canonical JSON TEXT and its digest.
func marshalEvent(event any) (data string, digest string, err error) {
	canonical, err := ir.MarshalCanonical(event)
	if err != nil {
		return "", "", fmt.Errorf("marshal event: %w", err)
	}
	return string(canonical), ir.DigestCanonical(canonical), nil
}

// unmarshalEvent validates stored event TEXT and returns it as raw JSON.
// Events are returned raw because their Go type is not recorded.
func unmarshalEvent(data string) (json.RawMessage, error) {
	raw := json.RawMessage(data)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("unmarshal event: invalid JSON %q", data)
	}
	return raw, nil
}
