package canon

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows migrating the algorithm later.
const (
	DomainTicket   = "framejobs/ticket/v1"
	DomainInstance = "framejobs/instance/v1"
	DomainTrace    = "framejobs/trace/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	sum := sumWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

func sumWithDomain(domain string, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash canonically marshals v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashWithDomain(domain, data), nil
}

// Seed derives a 64-bit seed from the canonical form of v under domain.
func Seed(domain string, v any) (uint64, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", domain, err)
	}
	sum := sumWithDomain(domain, data)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
