package configutil

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings maps a free-form vendor settings block onto a typed config
// struct. Key matching is forgiving: case, underscores, and dashes are all
// ignored, so api_key, apiKey, and API-Key land on the same field.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return foldKey(mapKey) == foldKey(fieldName)
		},
	})
	if err != nil {
		return fmt.Errorf("settings decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// RequireString rejects empty required config values, naming the field path
// in the message.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// IntValue substitutes fallback for unset or nonsensical values.
func IntValue(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func foldKey(k string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, k)
}
