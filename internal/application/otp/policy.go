package otp

import (
	"fmt"

	"github.com/otp-gateway/internal/domain"
)

// fallbackOrder is the fixed channel fallback sequence.
var fallbackOrder = []domain.Channel{domain.ChannelSMS, domain.ChannelEmail, domain.ChannelWhatsApp}

// SelectChannels resolves the primary delivery channel and the ordered
// fallback sequence from the caller's preference and contact-method
// availability.
//
// A deliverable preferred channel wins. Otherwise the default priority is
// SMS > Email; WhatsApp is never a default primary since its delivery
// requires opt-in templates, so it only ever appears as a fallback.
func SelectChannels(preferred *domain.Channel, hasPhone, hasEmail bool) (domain.Channel, []domain.Channel, error) {
	deliverable := func(ch domain.Channel) bool {
		if ch == domain.ChannelEmail {
			return hasEmail
		}
		return hasPhone
	}

	var primary domain.Channel
	switch {
	case preferred != nil && deliverable(*preferred):
		primary = *preferred
	case hasPhone:
		primary = domain.ChannelSMS
	case hasEmail:
		primary = domain.ChannelEmail
	default:
		return "", nil, fmt.Errorf("no contact method maps to a deliverable channel: %w", domain.ErrNoDeliveryMethod)
	}

	var fallbacks []domain.Channel
	for _, ch := range fallbackOrder {
		if ch != primary && deliverable(ch) {
			fallbacks = append(fallbacks, ch)
		}
	}
	return primary, fallbacks, nil
}
