package otp

import "strings"

// NormalizeCode normalizes a code by removing spaces and separators and
// converting to uppercase, so user-pasted codes compare cleanly
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return strings.ToUpper(code)
}

// ValidFormat checks whether the code is a plausible numeric OTP of the
// given length before it is sent to the issuing service
func ValidFormat(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
