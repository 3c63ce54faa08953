package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// document mirrors Settings with pointers so a missing field is an error
// instead of a silent zero.
type document struct {
	LightLevels *struct {
		Open  *float64 `json:"open" yaml:"open"`
		Close *float64 `json:"close" yaml:"close"`
	} `json:"light_levels" yaml:"light_levels"`
	Times *struct {
		Open  *TimeOfDay `json:"open" yaml:"open"`
		Close *TimeOfDay `json:"close" yaml:"close"`
	} `json:"times" yaml:"times"`
}

// Encode serializes settings to the on-disk YAML format.
func Encode(s Settings) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the on-disk YAML format. Every field is required and
// unknown fields are rejected.
func Decode(data []byte) (Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("%w: empty document", ErrDecode)
		}
		return Settings{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return doc.settings()
}

// DecodeJSON parses the JSON form used by the command transports with the
// same rules as Decode.
func DecodeJSON(data []byte) (Settings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return doc.settings()
}

func (doc document) settings() (Settings, error) {
	var missing []string
	if doc.LightLevels == nil {
		missing = append(missing, "light_levels")
	} else {
		if doc.LightLevels.Open == nil {
			missing = append(missing, "light_levels.open")
		}
		if doc.LightLevels.Close == nil {
			missing = append(missing, "light_levels.close")
		}
	}
	if doc.Times == nil {
		missing = append(missing, "times")
	} else {
		if doc.Times.Open == nil {
			missing = append(missing, "times.open")
		}
		if doc.Times.Close == nil {
			missing = append(missing, "times.close")
		}
	}
	if len(missing) > 0 {
		return Settings{}, fmt.Errorf("%w: missing %v", ErrDecode, missing)
	}

	return Settings{
		LightLevels: LightLevels{Open: *doc.LightLevels.Open, Close: *doc.LightLevels.Close},
		Times:       Times{Open: *doc.Times.Open, Close: *doc.Times.Close},
	}, nil
}
