package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BuildCustomKey derives a deterministic cache key from an identifier and a
// value. Scalar values are embedded directly ("identifier:value"); composite
// values (maps, slices, structs) are reduced to "identifier:<md5>" where the
// hash is computed over canonical JSON so that logically identical inputs
// always produce the same key regardless of field order.
//
// MD5 is used for uniform distribution and determinism only; keys are not an
// adversarial surface.
func BuildCustomKey(identifier string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return identifier, nil
	case string:
		return identifier + ":" + v, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%s:%v", identifier, v), nil
	case fmt.Stringer:
		return identifier + ":" + v.String(), nil
	}

	canonical, err := canonicalJSON(value)
	if err != nil {
		return "", fmt.Errorf("failed to build cache key %s: %w", identifier, err)
	}
	sum := md5.Sum(canonical)
	return identifier + ":" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes value with all object keys sorted. Round-tripping
// through map[string]any lets encoding/json emit map keys in sorted order at
// every nesting level.
func canonicalJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
