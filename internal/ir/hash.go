package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainStatement = "tapwire/statement/v1"
	DomainEvent     = "tapwire/event/v1"
)

// StatementIDPrefix marks ids derived from query text.
const StatementIDPrefix = "stmt-"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StatementID derives a stable id for a statement declared without one.
//
// The query is NFC normalized and its surrounding whitespace trimmed, so
// the same query text always yields the same id across restarts.
func StatementID(query string) string {
	normalized := norm.NFC.String(strings.TrimSpace(query))
	return StatementIDPrefix + hashWithDomain(DomainStatement, []byte(normalized))[:16]
}

// EventDigest computes a content hash of an event's canonical JSON form.
// Two events with equal canonical encodings share a digest.
func EventDigest(event any) (string, error) {
	canonical, err := MarshalCanonical(event)
	if err != nil {
		return "", fmt.Errorf("EventDigest: failed to marshal: %w", err)
	}
	return DigestCanonical(canonical), nil
}

// DigestCanonical hashes bytes already produced by MarshalCanonical.
func DigestCanonical(canonical []byte) string {
	return hashWithDomain(DomainEvent, canonical)
}
