package normalizer

import (
	"errors"
	"math"
	"testing"
	"time"

	"weather-ingest/internal/models"
)

func newTestNormalizer(t *testing.T, unit Unit, format TimestampFormat) *Normalizer {
	t.Helper()

	n, err := New(Config{
		Unit:            unit,
		TimestampFormat: format,
		FieldPaths:      DefaultFieldPaths(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return n
}

func TestNormalizer_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		unit        Unit
		format      TimestampFormat
		payload     string
		wantErr     bool
		wantReason  models.NormalizationReason
		wantField   string
		checkValues func(*testing.T, *models.WeatherObservation)
	}{
		{
			name:    "valid celsius payload",
			unit:    UnitCelsius,
			format:  TimestampUnix,
			payload: `{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				if obs.LocationID != "paris" {
					t.Errorf("LocationID = %v, want %v", obs.LocationID, "paris")
				}

				expectedTime := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
				if !obs.ObservedAt.Equal(expectedTime) {
					t.Errorf("ObservedAt = %v, want %v", obs.ObservedAt, expectedTime)
				}

				if math.Abs(obs.TemperatureKelvin-288.15) > 1e-9 {
					t.Errorf("TemperatureKelvin = %v, want %v", obs.TemperatureKelvin, 288.15)
				}

				if obs.HumidityPercent != 60 {
					t.Errorf("HumidityPercent = %v, want %v", obs.HumidityPercent, 60)
				}

				if obs.ConditionCode != "800" {
					t.Errorf("ConditionCode = %v, want %v", obs.ConditionCode, "800")
				}

				if len(obs.RawPayload) == 0 {
					t.Error("RawPayload should retain the original bytes")
				}
			},
		},
		{
			name:    "fahrenheit conversion",
			unit:    UnitFahrenheit,
			format:  TimestampUnix,
			payload: `{"name":"Austin","dt":1700000000,"main":{"temp":59.0,"humidity":40},"weather":[{"id":"801"}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				// 59°F = 15°C = 288.15 K
				if math.Abs(obs.TemperatureKelvin-288.15) > 1e-9 {
					t.Errorf("TemperatureKelvin = %v, want %v", obs.TemperatureKelvin, 288.15)
				}
			},
		},
		{
			name:    "kelvin passthrough",
			unit:    UnitKelvin,
			format:  TimestampUnix,
			payload: `{"name":"Oslo","dt":1700000000,"main":{"temp":270.5,"humidity":80},"weather":[{"id":"600"}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				if obs.TemperatureKelvin != 270.5 {
					t.Errorf("TemperatureKelvin = %v, want %v", obs.TemperatureKelvin, 270.5)
				}
			},
		},
		{
			name:    "location is case normalized and trimmed",
			unit:    UnitCelsius,
			format:  TimestampUnix,
			payload: `{"name":"  LYON ","dt":1700000000,"main":{"temp":10.0,"humidity":55},"weather":[{"id":"500"}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				if obs.LocationID != "lyon" {
					t.Errorf("LocationID = %v, want %v", obs.LocationID, "lyon")
				}
			},
		},
		{
			name:    "rfc3339 timestamp with sub-second precision truncated",
			unit:    UnitCelsius,
			format:  TimestampRFC3339,
			payload: `{"name":"Pau","dt":"2023-11-14T22:13:20.789Z","main":{"temp":12.5,"humidity":70},"weather":[{"id":"803"}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				expectedTime := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
				if !obs.ObservedAt.Equal(expectedTime) {
					t.Errorf("ObservedAt = %v, want %v", obs.ObservedAt, expectedTime)
				}
				if obs.ObservedAt.Nanosecond() != 0 {
					t.Errorf("ObservedAt should be truncated to whole seconds, got %v", obs.ObservedAt)
				}
			},
		},
		{
			name:    "numeric condition code is stringified",
			unit:    UnitCelsius,
			format:  TimestampUnix,
			payload: `{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[{"id":800}]}`,
			checkValues: func(t *testing.T, obs *models.WeatherObservation) {
				if obs.ConditionCode != "800" {
					t.Errorf("ConditionCode = %v, want %v", obs.ConditionCode, "800")
				}
			},
		},
		{
			name:       "missing location",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMissingField,
			wantField:  FieldLocation,
		},
		{
			name:       "missing temperature",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMissingField,
			wantField:  FieldTemperature,
		},
		{
			name:       "missing humidity",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":15.0},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMissingField,
			wantField:  FieldHumidity,
		},
		{
			name:       "missing condition via empty weather array",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[]}`,
			wantErr:    true,
			wantReason: models.ReasonMissingField,
			wantField:  FieldCondition,
		},
		{
			name:       "temperature below absolute zero",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":-300.0,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonOutOfRange,
			wantField:  FieldTemperature,
		},
		{
			name:       "temperature above sanity bound",
			unit:       UnitKelvin,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":1000,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonOutOfRange,
			wantField:  FieldTemperature,
		},
		{
			name:       "humidity above 100",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":101},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonOutOfRange,
			wantField:  FieldHumidity,
		},
		{
			name:       "fractional humidity is rejected",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":60.5},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonOutOfRange,
			wantField:  FieldHumidity,
		},
		{
			name:       "malformed unix timestamp",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"Paris","dt":"yesterday","main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMalformedTimestamp,
		},
		{
			name:       "malformed rfc3339 timestamp",
			unit:       UnitCelsius,
			format:     TimestampRFC3339,
			payload:    `{"name":"Paris","dt":"14/11/2023","main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMalformedTimestamp,
		},
		{
			name:       "whitespace location treated as missing",
			unit:       UnitCelsius,
			format:     TimestampUnix,
			payload:    `{"name":"   ","dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`,
			wantErr:    true,
			wantReason: models.ReasonMissingField,
			wantField:  FieldLocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(t, tt.unit, tt.format)

			obs, err := n.Normalize([]byte(tt.payload))

			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				var normErr *models.NormalizationError
				if !errors.As(err, &normErr) {
					t.Fatalf("error type = %T, want *models.NormalizationError", err)
				}
				if normErr.Reason != tt.wantReason {
					t.Errorf("Reason = %v, want %v", normErr.Reason, tt.wantReason)
				}
				if tt.wantField != "" && normErr.Field != tt.wantField {
					t.Errorf("Field = %v, want %v", normErr.Field, tt.wantField)
				}
				if normErr.IsTransient() {
					t.Error("normalization errors should never be transient")
				}
				return
			}

			if tt.checkValues != nil {
				tt.checkValues(t, obs)
			}
		})
	}
}

func TestNormalizer_NormalizeIsDeterministic(t *testing.T) {
	n := newTestNormalizer(t, UnitCelsius, TimestampUnix)
	payload := []byte(`{"name":"Paris","dt":1700000000,"main":{"temp":15.0,"humidity":60},"weather":[{"id":"800"}]}`)

	first, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	second, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if first.Key() != second.Key() {
		t.Errorf("keys differ across runs: %v vs %v", first.Key(), second.Key())
	}
	if !first.SameValues(second) {
		t.Error("repeated normalization of the same payload produced different values")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "unknown unit",
			cfg:  Config{Unit: "rankine", TimestampFormat: TimestampUnix, FieldPaths: DefaultFieldPaths()},
		},
		{
			name: "unknown timestamp format",
			cfg:  Config{Unit: UnitCelsius, TimestampFormat: "sundial", FieldPaths: DefaultFieldPaths()},
		},
		{
			name: "missing extraction path",
			cfg: Config{Unit: UnitCelsius, TimestampFormat: TimestampUnix, FieldPaths: map[string]string{
				FieldLocation: "name",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestLookupPath(t *testing.T) {
	payload := map[string]interface{}{
		"main": map[string]interface{}{"temp": "value"},
		"weather": []interface{}{
			map[string]interface{}{"id": "800"},
		},
	}

	if v, ok := lookupPath(payload, "main.temp"); !ok || v != "value" {
		t.Errorf("lookupPath(main.temp) = %v, %v", v, ok)
	}
	if v, ok := lookupPath(payload, "weather.0.id"); !ok || v != "800" {
		t.Errorf("lookupPath(weather.0.id) = %v, %v", v, ok)
	}
	if _, ok := lookupPath(payload, "weather.1.id"); ok {
		t.Error("lookupPath should fail on out-of-bounds index")
	}
	if _, ok := lookupPath(payload, "main.missing"); ok {
		t.Error("lookupPath should fail on absent key")
	}
	if _, ok := lookupPath(payload, "main.temp.deeper"); ok {
		t.Error("lookupPath should fail when descending into a scalar")
	}
}
