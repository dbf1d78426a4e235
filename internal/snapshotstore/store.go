// Package snapshotstore persists environment snapshots as blobs, either on
// the local filesystem or in an S3-compatible bucket.
package snapshotstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/daniacca/membranedb/internal/psystem"
)

// ErrNotFound is returned by Load when no snapshot exists for the id.
var ErrNotFound = errors.New("snapshot not found")

// Format selects the blob encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts "json" or "cbor" (case-insensitive). Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown snapshot format %q (expected json or cbor)", s)
	}
}

func (f Format) extension() string {
	if f == FormatCBOR {
		return ".cbor"
	}
	return ".json"
}

func (f Format) contentType() string {
	if f == FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

func (f Format) encode(snap psystem.Snapshot) ([]byte, error) {
	if f == FormatCBOR {
		return psystem.EncodeSnapshotCBOR(snap)
	}
	return psystem.EncodeSnapshotJSON(snap)
}

func (f Format) decode(data []byte) (psystem.Snapshot, error) {
	if f == FormatCBOR {
		return psystem.DecodeSnapshotCBOR(data)
	}
	return psystem.DecodeSnapshotJSON(data)
}

// objectName maps an environment id to a single path segment.
func objectName(id psystem.EnvironmentID, f Format) (string, error) {
	if id == "" {
		return "", errors.New("environment id is required")
	}
	return url.PathEscape(string(id)) + f.extension(), nil
}
