package payload

import "strings"

// digitsOnly strips every non-digit rune. The gateway rejects formatted tax
// ids, phone numbers and postal codes.
func digitsOnly(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}

// centsToAmount converts a centavo amount to the decimal number the gateway
// expects.
func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// boolString serializes a flag as the literal "true"/"false" string the
// service invoice endpoint requires instead of a JSON boolean.
func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
