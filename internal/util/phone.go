package util

import "regexp"

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{0,14}$`)

// IsE164 reports whether phone is an international E.164 number: a plus sign
// followed by 1 to 15 digits, the first of which is not zero.
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
