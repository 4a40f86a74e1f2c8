package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"weather-ingest/internal/models"
)

// Unit identifies the temperature unit of the raw payload. It is a
// configuration flag, never inferred from payload shape.
type Unit string

const (
	UnitCelsius    Unit = "celsius"
	UnitFahrenheit Unit = "fahrenheit"
	UnitKelvin     Unit = "kelvin"
)

// TimestampFormat identifies how the provider encodes the measurement time.
type TimestampFormat string

const (
	// TimestampUnix is Unix epoch seconds, numeric.
	TimestampUnix TimestampFormat = "unix"
	// TimestampRFC3339 is an ISO-8601 / RFC 3339 string.
	TimestampRFC3339 TimestampFormat = "rfc3339"
)

// Logical field names used as keys of the extraction path table.
const (
	FieldLocation    = "location"
	FieldObservedAt  = "observed_at"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldCondition   = "condition"
)

var requiredFields = []string{
	FieldLocation,
	FieldObservedAt,
	FieldTemperature,
	FieldHumidity,
	FieldCondition,
}

// Config is the static normalizer configuration: one extraction path per
// logical field plus the unit and timestamp format flags.
type Config struct {
	Unit            Unit
	TimestampFormat TimestampFormat
	// FieldPaths maps logical field names to dotted extraction paths into the
	// raw payload. Numeric segments index arrays, e.g. "weather.0.id".
	FieldPaths map[string]string
}

// DefaultFieldPaths returns the extraction paths for the OpenWeatherMap
// current-weather response shape.
func DefaultFieldPaths() map[string]string {
	return map[string]string{
		FieldLocation:    "name",
		FieldObservedAt:  "dt",
		FieldTemperature: "main.temp",
		FieldHumidity:    "main.humidity",
		FieldCondition:   "weather.0.id",
	}
}

// Normalizer converts raw provider payloads into canonical observations.
// Normalize is a pure function of the payload and this configuration; it
// never blocks and has no side effects.
type Normalizer struct {
	cfg Config
}

// New validates the configuration and returns a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	switch cfg.Unit {
	case UnitCelsius, UnitFahrenheit, UnitKelvin:
	default:
		return nil, fmt.Errorf("unsupported unit %q", cfg.Unit)
	}

	switch cfg.TimestampFormat {
	case TimestampUnix, TimestampRFC3339:
	default:
		return nil, fmt.Errorf("unsupported timestamp format %q", cfg.TimestampFormat)
	}

	for _, field := range requiredFields {
		if cfg.FieldPaths[field] == "" {
			return nil, fmt.Errorf("no extraction path configured for field %q", field)
		}
	}

	return &Normalizer{cfg: cfg}, nil
}

// Normalize extracts, validates, and converts the configured fields from a
// raw provider payload. Missing required fields and out-of-bounds values fail
// with a typed NormalizationError; no defaults are substituted silently. The
// original payload bytes are retained on the observation for audit.
func (n *Normalizer) Normalize(payload []byte) (*models.WeatherObservation, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	location, err := n.extractLocation(root)
	if err != nil {
		return nil, err
	}

	observedAt, err := n.extractObservedAt(root)
	if err != nil {
		return nil, err
	}

	kelvin, err := n.extractTemperature(root)
	if err != nil {
		return nil, err
	}

	humidity, err := n.extractHumidity(root)
	if err != nil {
		return nil, err
	}

	condition, err := n.extractCondition(root)
	if err != nil {
		return nil, err
	}

	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)

	return &models.WeatherObservation{
		LocationID:        location,
		ObservedAt:        observedAt,
		TemperatureKelvin: kelvin,
		HumidityPercent:   humidity,
		ConditionCode:     condition,
		RawPayload:        raw,
	}, nil
}

func (n *Normalizer) extractLocation(root interface{}) (string, error) {
	value, ok := lookupPath(root, n.cfg.FieldPaths[FieldLocation])
	if !ok {
		return "", models.MissingField(FieldLocation)
	}

	s, ok := value.(string)
	if !ok {
		return "", models.OutOfRange(FieldLocation, fmt.Sprintf("%v", value))
	}

	// Case-normalized identifier: "Paris" and "paris" are the same location.
	id := strings.ToLower(strings.TrimSpace(s))
	if id == "" {
		return "", models.MissingField(FieldLocation)
	}

	return id, nil
}

func (n *Normalizer) extractObservedAt(root interface{}) (time.Time, error) {
	value, ok := lookupPath(root, n.cfg.FieldPaths[FieldObservedAt])
	if !ok {
		return time.Time{}, models.MissingField(FieldObservedAt)
	}

	var ts time.Time
	switch n.cfg.TimestampFormat {
	case TimestampUnix:
		num, ok := value.(json.Number)
		if !ok {
			return time.Time{}, models.MalformedTimestamp(fmt.Sprintf("%v", value))
		}
		epoch, err := num.Int64()
		if err != nil {
			return time.Time{}, models.MalformedTimestamp(num.String())
		}
		ts = time.Unix(epoch, 0)

	case TimestampRFC3339:
		s, ok := value.(string)
		if !ok {
			return time.Time{}, models.MalformedTimestamp(fmt.Sprintf("%v", value))
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, models.MalformedTimestamp(s)
		}
		ts = parsed
	}

	// Truncate sub-second precision for determinism.
	return ts.UTC().Truncate(time.Second), nil
}

func (n *Normalizer) extractTemperature(root interface{}) (float64, error) {
	value, ok := lookupPath(root, n.cfg.FieldPaths[FieldTemperature])
	if !ok {
		return 0, models.MissingField(FieldTemperature)
	}

	raw, ok := asFloat(value)
	if !ok {
		return 0, models.OutOfRange(FieldTemperature, fmt.Sprintf("%v", value))
	}

	kelvin := toKelvin(raw, n.cfg.Unit)
	if kelvin <= 0 || kelvin >= 1000 {
		return 0, models.OutOfRange(FieldTemperature, strconv.FormatFloat(kelvin, 'f', -1, 64))
	}

	return kelvin, nil
}

func (n *Normalizer) extractHumidity(root interface{}) (int, error) {
	value, ok := lookupPath(root, n.cfg.FieldPaths[FieldHumidity])
	if !ok {
		return 0, models.MissingField(FieldHumidity)
	}

	raw, ok := asFloat(value)
	if !ok {
		return 0, models.OutOfRange(FieldHumidity, fmt.Sprintf("%v", value))
	}

	// Humidity is an integer percentage; a fractional value is a provider bug,
	// not something to round away silently.
	if raw != math.Trunc(raw) {
		return 0, models.OutOfRange(FieldHumidity, strconv.FormatFloat(raw, 'f', -1, 64))
	}

	humidity := int(raw)
	if humidity < 0 || humidity > 100 {
		return 0, models.OutOfRange(FieldHumidity, strconv.Itoa(humidity))
	}

	return humidity, nil
}

func (n *Normalizer) extractCondition(root interface{}) (string, error) {
	value, ok := lookupPath(root, n.cfg.FieldPaths[FieldCondition])
	if !ok {
		return "", models.MissingField(FieldCondition)
	}

	var code string
	switch v := value.(type) {
	case string:
		code = strings.TrimSpace(v)
	case json.Number:
		// Some providers send the condition code as a bare number.
		code = v.String()
	default:
		return "", models.OutOfRange(FieldCondition, fmt.Sprintf("%v", value))
	}

	if code == "" {
		return "", models.MissingField(FieldCondition)
	}

	return code, nil
}

// toKelvin converts a temperature in the configured unit to Kelvin.
func toKelvin(value float64, unit Unit) float64 {
	switch unit {
	case UnitCelsius:
		return value + 273.15
	case UnitFahrenheit:
		return (value-32)*5/9 + 273.15
	default:
		return value
	}
}

// lookupPath walks a dotted path through nested maps and arrays. Numeric
// segments index arrays. Returns false if any segment is absent.
func lookupPath(root interface{}, path string) (interface{}, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next

		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]

		default:
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}

	return current, true
}

// asFloat converts a decoded JSON value to float64. Only numeric values
// qualify; strings are rejected so configuration mistakes surface early.
func asFloat(value interface{}) (float64, bool) {
	num, ok := value.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
