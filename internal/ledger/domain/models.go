// Package domain contains the meter kinds and counter types for the usage ledger.
package domain

import "errors"

// MeterKind identifies one of the billable resource categories.
type MeterKind string

const (
	MeterQueries   MeterKind = "queries"
	MeterDocuments MeterKind = "documents"
	MeterPhotos    MeterKind = "photos"
	MeterStorageGB MeterKind = "storage_gb"
)

// MeterKinds returns all meter kinds in their stable billing order.
func MeterKinds() []MeterKind {
	return []MeterKind{MeterQueries, MeterDocuments, MeterPhotos, MeterStorageGB}
}

// ParseMeterKind validates a wire-format meter kind.
func ParseMeterKind(value string) (MeterKind, error) {
	switch MeterKind(value) {
	case MeterQueries, MeterDocuments, MeterPhotos, MeterStorageGB:
		return MeterKind(value), nil
	default:
		return "", ErrInvalidMeterKind
	}
}

// Countable reports whether the meter counts discrete events.
// Storage is the only real-valued meter.
func (k MeterKind) Countable() bool {
	return k != MeterStorageGB
}

// UsageCounters holds per-company usage for one open billing cycle.
type UsageCounters struct {
	Queries   uint64  `json:"queries"`
	Documents uint64  `json:"documents"`
	Photos    uint64  `json:"photos"`
	StorageGB float64 `json:"storage_gb"`
}

// Value returns the counter for a meter kind as a quantity.
func (c UsageCounters) Value(kind MeterKind) float64 {
	switch kind {
	case MeterQueries:
		return float64(c.Queries)
	case MeterDocuments:
		return float64(c.Documents)
	case MeterPhotos:
		return float64(c.Photos)
	case MeterStorageGB:
		return c.StorageGB
	default:
		return 0
	}
}

var (
	ErrInvalidMeterKind  = errors.New("invalid_meter_kind")
	ErrNonPositiveAmount = errors.New("non_positive_amount")
)
