package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates the phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidPhoneFormat indicates the phone number contains invalid characters
	ErrInvalidPhoneFormat = errors.New("phone number can only contain digits and an optional leading +")

	// ErrInvalidPhoneLength indicates the phone number is outside E.164 bounds
	ErrInvalidPhoneLength = errors.New("phone number must have between 7 and 15 digits")
)

// digitsRegex matches digits only
var digitsRegex = regexp.MustCompile(`^\d+$`)

// NormalizePhone sanitizes and validates a guest contact phone number.
// Accepts international numbers with common separators, e.g. "+65 9123 4567"
// or "07-7123-4567". Returns the normalized form: digits only, with a leading
// + preserved when the input carried a country code.
func NormalizePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := sanitizePhone(phone)

	hasPlus := strings.HasPrefix(sanitized, "+")
	digits := strings.TrimPrefix(sanitized, "+")

	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidPhoneFormat
	}

	if len(digits) < 7 || len(digits) > 15 {
		return "", ErrInvalidPhoneLength
	}

	if hasPlus {
		return "+" + digits, nil
	}
	return digits, nil
}

// sanitizePhone removes spaces, dashes, dots and parentheses. A leading +
// survives; a + anywhere else is an invalid character and is kept so the
// digit check rejects it.
func sanitizePhone(phone string) string {
	phone = strings.TrimSpace(phone)

	hasPlus := strings.HasPrefix(phone, "+")
	phone = strings.TrimPrefix(phone, "+")

	for _, sep := range []string{" ", "-", "(", ")", "."} {
		phone = strings.ReplaceAll(phone, sep, "")
	}

	if hasPlus {
		return "+" + phone
	}
	return phone
}
