package storage

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"postwatch/internal/fingerprint"
)

const recordVersion = 1

// errMalformed marks a record that exists but cannot be trusted.
// Drivers translate it into an absent State plus a warning.
var errMalformed = errors.New("malformed state record")

type record struct {
	Version     int                     `json:"version"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	SavedAt     time.Time               `json:"saved_at"`
}

func encodeRecord(fp fingerprint.Fingerprint, at time.Time) ([]byte, error) {
	if err := validateFingerprint(fp); err != nil {
		return nil, err
	}
	return json.Marshal(record{Version: recordVersion, Fingerprint: fp, SavedAt: at.UTC()})
}

// decodeRecord accepts the current object format and the legacy format,
// a bare JSON string holding an MD5 hex digest.
func decodeRecord(b []byte) (State, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return State{}, fmt.Errorf("%w: empty", errMalformed)
	}
	if b[0] == '"' {
		var sum string
		if err := json.Unmarshal(b, &sum); err != nil {
			return State{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
		fp := fingerprint.Fingerprint{Algorithm: fingerprint.MD5, Sum: sum}
		if err := validateFingerprint(fp); err != nil {
			return State{}, fmt.Errorf("%w: legacy: %v", errMalformed, err)
		}
		return State{Fingerprint: fp}, nil
	}
	if bytes.Equal(b, []byte("null")) {
		return State{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var r record
	if err := dec.Decode(&r); err != nil {
		return State{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if r.Version != recordVersion {
		return State{}, fmt.Errorf("%w: unsupported version %d", errMalformed, r.Version)
	}
	if err := validateFingerprint(r.Fingerprint); err != nil {
		return State{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return State{Fingerprint: r.Fingerprint, SavedAt: r.SavedAt}, nil
}

func validateFingerprint(fp fingerprint.Fingerprint) error {
	var size int
	switch fp.Algorithm {
	case fingerprint.SHA256:
		size = 32
	case fingerprint.MD5:
		size = 16
	default:
		return fmt.Errorf("unknown algorithm %q", fp.Algorithm)
	}
	raw, err := hex.DecodeString(fp.Sum)
	if err != nil {
		return fmt.Errorf("sum is not hex: %w", err)
	}
	if len(raw) != size {
		return fmt.Errorf("sum has %d bytes, want %d", len(raw), size)
	}
	return nil
}
