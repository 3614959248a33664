// Package fingerprint derives stable identities for fetched content.
//
// A Fingerprint is a hex-encoded cryptographic digest tagged with the
// algorithm that produced it. It is safe to persist: the same text always
// maps to the same Fingerprint, across restarts and across implementations.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	// MD5 matches state files written by the legacy scraper.
	MD5 Algorithm = "md5"
)

// Fingerprint identifies one version of an item.
type Fingerprint struct {
	Algorithm Algorithm `json:"algorithm"`
	Sum       string    `json:"sum"`
}

func (f Fingerprint) IsZero() bool { return f.Sum == "" }

// Equal reports whether two fingerprints identify the same content.
// Digests from different algorithms never match.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return !f.IsZero() && f.Algorithm == o.Algorithm && f.Sum == o.Sum
}

func (f Fingerprint) String() string {
	if f.IsZero() {
		return "<none>"
	}
	return string(f.Algorithm) + ":" + f.Sum
}

// Short is the first 12 hex chars, for log lines.
func (f Fingerprint) Short() string {
	if len(f.Sum) <= 12 {
		return f.Sum
	}
	return f.Sum[:12]
}

// Hasher computes fingerprints with a fixed algorithm. The zero value uses SHA-256.
type Hasher struct {
	algo Algorithm
}

// New returns a Hasher for the named algorithm ("" means sha256).
func New(name string) (Hasher, error) {
	a, err := ParseAlgorithm(name)
	if err != nil {
		return Hasher{}, err
	}
	return Hasher{algo: a}, nil
}

func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case MD5:
		return MD5, nil
	default:
		return "", fmt.Errorf("unknown fingerprint algorithm %q (want sha256 or md5)", name)
	}
}

func (h Hasher) Algorithm() Algorithm {
	if h.algo == "" {
		return SHA256
	}
	return h.algo
}

// Fingerprint hashes the UTF-8 bytes of content. It has no error path.
func (h Hasher) Fingerprint(content string) Fingerprint {
	var d hash.Hash
	algo := h.Algorithm()
	switch algo {
	case MD5:
		d = md5.New()
	default:
		d = sha256.New()
	}
	d.Write([]byte(content))
	return Fingerprint{Algorithm: algo, Sum: hex.EncodeToString(d.Sum(nil))}
}
