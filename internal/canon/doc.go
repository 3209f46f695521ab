// Package canon provides the canonical JSON encoding and domain-separated
// hashing behind every content-addressed identity in the module: ticket
// seeds, job instance hashes and planning trace digests.
//
// Canonical form follows RFC 8785 restricted to integers: object keys sorted
// by UTF-16 code units, strings NFC normalized, no HTML escaping, no floats
// and no null.
package canon
