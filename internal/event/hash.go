package event

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DomainReference separates event reference hashes from any other use of
// SHA-256 over the same bytes. The version suffix allows migration.
const DomainReference = "roomdag/event-reference/v1"

// redactedKeys are excluded from the reference hash.
var redactedKeys = []string{"event_id", "signatures", "unsigned"}

// ReferenceID computes the content-derived id of an event: "$" followed by
// the unpadded URL-safe base64 of SHA256(domain + 0x00 + canonical JSON).
// The id field itself never contributes to the hash.
func ReferenceID(e *Event) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("ReferenceID: marshal: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("ReferenceID: %w", err)
	}
	for _, k := range redactedKeys {
		delete(obj, k)
	}
	stripped, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("ReferenceID: %w", err)
	}
	canonical, err := MarshalCanonical(stripped)
	if err != nil {
		return "", fmt.Errorf("ReferenceID: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainReference))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return "$" + base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// MustReferenceID is like ReferenceID but panics on error.
// Use only in tests or when the event is known to be well formed.
func MustReferenceID(e *Event) string {
	id, err := ReferenceID(e)
	if err != nil {
		panic(err)
	}
	return id
}
