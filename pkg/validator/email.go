package validator

import (
	"regexp"
	"strings"
)

// emailRegex is a pragmatic address check: one @, a non-empty local part and
// a dotted domain. Full RFC 5322 parsing buys nothing for booking contacts.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// currencyRegex matches three uppercase letters (ISO 4217 shape)
var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// IsValidEmail reports whether the address has a plausible mailbox shape.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	return emailRegex.MatchString(email)
}

// IsValidCurrencyCode reports whether code looks like an ISO 4217 currency
// code. The gateway rejects codes it does not settle; this only guards shape.
func IsValidCurrencyCode(code string) bool {
	return currencyRegex.MatchString(code)
}
