package otp

import (
	"fmt"

	"github.com/otp-gateway/internal/domain"
	"github.com/otp-gateway/internal/pkg/mask"
)

// sentMessage is the caller-facing confirmation after a successful send.
// The destination is masked so the message can be shown verbatim to end
// users without exposing the full contact address.
func sentMessage(ch domain.Channel, destination string) string {
	return fmt.Sprintf("A verification code was sent to %s via %s.", maskedDestination(ch, destination), ch)
}

func maskedDestination(ch domain.Channel, destination string) string {
	if ch == domain.ChannelEmail {
		return mask.Email(destination)
	}
	return mask.Phone(destination)
}
