package validation

import (
	"errors"
	"strings"
)

// ErrPostalCodeEmpty is returned when the postal code is empty or whitespace-only after trim.
var ErrPostalCodeEmpty = errors.New("postal code is required")

// ErrPostalCodeLength is returned when the postal code does not have exactly 7 digits.
var ErrPostalCodeLength = errors.New("postal code must have 7 digits")

// ErrPostalCodeInvalidChars is returned when the postal code contains anything but digits and one hyphen.
var ErrPostalCodeInvalidChars = errors.New("postal code contains invalid characters")

// NormalizePostalCode trims the input and strips a single separating hyphen
// ("100-0001" becomes "1000001"). The result is exactly 7 ASCII digits.
func NormalizePostalCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrPostalCodeEmpty
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		if i != 3 || strings.Count(s, "-") > 1 {
			return "", ErrPostalCodeInvalidChars
		}
		s = s[:3] + s[4:]
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", ErrPostalCodeInvalidChars
		}
	}
	if len(s) != 7 {
		return "", ErrPostalCodeLength
	}
	return s, nil
}
