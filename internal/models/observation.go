package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WeatherObservation is a single normalized weather reading for one location
// at one point in time. It is constructed only by the normalizer and never
// mutated afterwards. The tuple (LocationID, ObservedAt) uniquely identifies
// an observation in the store.
type WeatherObservation struct {
	LocationID        string          `json:"location_id" db:"location_id"`
	ObservedAt        time.Time       `json:"observed_at" db:"observed_at"`
	TemperatureKelvin float64         `json:"temperature_kelvin" db:"temperature_kelvin"`
	HumidityPercent   int             `json:"humidity_percent" db:"humidity_percent"`
	ConditionCode     string          `json:"condition_code" db:"condition_code"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`
}

// Key returns the store identity of the observation.
func (o *WeatherObservation) Key() string {
	return fmt.Sprintf("%s:%s", o.LocationID, o.ObservedAt.UTC().Format(time.RFC3339))
}

// SameValues reports whether two observations carry identical measured values.
// RawPayload is excluded: it is audit data, not part of the measurement.
func (o *WeatherObservation) SameValues(other *WeatherObservation) bool {
	return o.TemperatureKelvin == other.TemperatureKelvin &&
		o.HumidityPercent == other.HumidityPercent &&
		o.ConditionCode == other.ConditionCode
}

// UpsertOutcome describes what a store upsert did for a given key.
type UpsertOutcome int

const (
	// OutcomeInserted means no row existed for the key and one was created.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeReplaced means a row existed with differing values and was overwritten.
	OutcomeReplaced
	// OutcomeNoOp means an identical row already existed and the write was elided.
	OutcomeNoOp
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeNoOp:
		return "noop"
	default:
		return "unknown"
	}
}

// NormalizationReason classifies why a raw payload could not be normalized.
type NormalizationReason string

const (
	ReasonMissingField       NormalizationReason = "missing_field"
	ReasonOutOfRange         NormalizationReason = "out_of_range"
	ReasonMalformedTimestamp NormalizationReason = "malformed_timestamp"
)

// NormalizationError is a deterministic, non-retryable validation failure
// produced by the normalizer. It names the offending field and value so
// callers can log and drop the payload without inspecting message strings.
type NormalizationError struct {
	Reason NormalizationReason
	Field  string
	Value  string
}

func (e *NormalizationError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("missing required field %q", e.Field)
	case ReasonOutOfRange:
		return fmt.Sprintf("field %q out of range: %s", e.Field, e.Value)
	case ReasonMalformedTimestamp:
		return fmt.Sprintf("malformed timestamp: %s", e.Value)
	default:
		return fmt.Sprintf("normalization failed for field %q", e.Field)
	}
}

// IsTransient returns false: validation errors are permanent for a given payload.
func (e *NormalizationError) IsTransient() bool {
	return false
}

// MissingField reports a required field absent from the raw payload.
func MissingField(field string) *NormalizationError {
	return &NormalizationError{Reason: ReasonMissingField, Field: field}
}

// OutOfRange reports a field value outside its documented bounds.
func OutOfRange(field, value string) *NormalizationError {
	return &NormalizationError{Reason: ReasonOutOfRange, Field: field, Value: value}
}

// MalformedTimestamp reports an unparseable observation timestamp.
func MalformedTimestamp(value string) *NormalizationError {
	return &NormalizationError{Reason: ReasonMalformedTimestamp, Field: "observed_at", Value: value}
}

// StoreErrorKind classifies storage failures into the closed set callers
// branch on when deciding whether to retry.
type StoreErrorKind string

const (
	// KindConnectionUnavailable covers refused, dropped, or bad connections.
	// Transient; callers may retry with backoff.
	KindConnectionUnavailable StoreErrorKind = "connection_unavailable"
	// KindTimeout covers context deadlines and cancelled statements.
	// Transient; callers may retry with backoff.
	KindTimeout StoreErrorKind = "timeout"
	// KindConstraintViolation indicates an invariant breach such as a duplicate
	// key reaching the insert path. A bug, never retried.
	KindConstraintViolation StoreErrorKind = "constraint_violation"
)

// StoreError wraps a storage failure with its classification and the
// operation that produced it.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the caller may retry the operation.
func (e *StoreError) IsTransient() bool {
	return e.Kind == KindConnectionUnavailable || e.Kind == KindTimeout
}
