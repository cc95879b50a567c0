// Package mask redacts contact addresses for user-facing messages.
package mask

import (
	"fmt"
	"strings"
)

// Email masks the local part of an email address, keeping the first and
// last character when the local part is long enough.
func Email(addr string) string {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return addr
	}
	local, domain := parts[0], parts[1]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return fmt.Sprintf("%c*****%c@%s", local[0], local[len(local)-1], domain)
}

// Phone shows only the last 4 digits of a phone number.
func Phone(number string) string {
	if len(number) > 4 {
		return "****" + number[len(number)-4:]
	}
	return "****"
}
