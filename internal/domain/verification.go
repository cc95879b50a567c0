package domain

import "time"

// Channel is a delivery channel for one-time codes.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// ValidChannel reports whether c is one of the enumerated channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelWhatsApp:
		return true
	}
	return false
}

// CodeLength returns the code length convention for the channel:
// 4 digits for phone-delivered codes, 6 for email.
func (c Channel) CodeLength() int {
	if c == ChannelEmail {
		return 6
	}
	return 4
}

// Purpose is the enumerated reason a code was issued. It determines
// message copy and the default validity window.
type Purpose string

const (
	PurposeSignup           Purpose = "signup"
	PurposePasswordRecovery Purpose = "password_recovery"
	PurposeLoginSecondStep  Purpose = "login_second_factor"
	PurposeAgentOrder       Purpose = "agent_order_verification"
)

// ValidPurpose reports whether p is one of the enumerated purposes.
func ValidPurpose(p Purpose) bool {
	switch p {
	case PurposeSignup, PurposePasswordRecovery, PurposeLoginSecondStep, PurposeAgentOrder:
		return true
	}
	return false
}

// IdentifierKind tags a contact address as a phone number or email address.
// Callers pass the kind explicitly; the service never infers it from the
// shape of the value.
type IdentifierKind string

const (
	IdentifierPhone IdentifierKind = "phone"
	IdentifierEmail IdentifierKind = "email"
)

// Identifier is a tagged contact address.
type Identifier struct {
	Kind  IdentifierKind `json:"kind" validate:"required,oneof=phone email"`
	Value string         `json:"value" validate:"required"`
}

// DeliveryOutcome is the result of a single send attempt on one channel.
// Adapters report failures as values; the orchestrator's fallback loop is
// a plain sequential result check.
type DeliveryOutcome struct {
	Success           bool
	ProviderMessageID string
	Err               error
}

// ChannelFailure records why delivery on one channel failed, for the
// diagnostics attached to a terminal delivery failure.
type ChannelFailure struct {
	Channel Channel `json:"channel"`
	Reason  string  `json:"reason"`
}

// VerificationRecord is one outstanding or recent one-time code.
// PK: verification_id. GSI identifier-index: hash identifier, range created_at.
// PurgeAt is a Unix timestamp used as DynamoDB TTL.
type VerificationRecord struct {
	ID                  string     `json:"id" dynamodbav:"verification_id"`
	Identifier          string     `json:"identifier" dynamodbav:"identifier"`
	SecondaryIdentifier string     `json:"secondary_identifier,omitempty" dynamodbav:"secondary_identifier"`
	CodeHash            string     `json:"-" dynamodbav:"code_hash"`
	Purpose             Purpose    `json:"purpose" dynamodbav:"purpose"`
	Channel             Channel    `json:"channel" dynamodbav:"channel"`
	FallbackChannels    []Channel  `json:"fallback_channels" dynamodbav:"fallback_channels"`
	Attempts            int        `json:"attempts" dynamodbav:"attempts"`
	MaxAttempts         int        `json:"max_attempts" dynamodbav:"max_attempts"`
	Used                bool       `json:"used" dynamodbav:"used"`
	AssociatedOrderID   string     `json:"associated_order_id,omitempty" dynamodbav:"associated_order_id"`
	AssociatedUserID    string     `json:"associated_user_id,omitempty" dynamodbav:"associated_user_id"`
	LastDeliveryError   string     `json:"-" dynamodbav:"last_delivery_error"`
	CreatedAt           time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" dynamodbav:"updated_at"`
	ExpiresAt           time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	VerifiedAt          *time.Time `json:"verified_at,omitempty" dynamodbav:"verified_at"`
	PurgeAt             int64      `json:"-" dynamodbav:"purge_at"`
}

// Expired reports whether the record is past its validity window at now.
// Expiry is evaluated lazily at verify time, never by eager deletion.
func (r *VerificationRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Active reports whether the record can still match a submitted code.
func (r *VerificationRecord) Active(now time.Time) bool {
	return !r.Used && !r.Expired(now)
}

// ContactFor returns the contact address a send on ch would go to: the
// current identifier when ch uses the same contact method as the current
// channel (sms and whatsapp share the phone number), otherwise the
// secondary identifier.
func (r *VerificationRecord) ContactFor(ch Channel) string {
	if ch == r.Channel {
		return r.Identifier
	}
	if (ch == ChannelEmail) == (r.Channel == ChannelEmail) {
		return r.Identifier
	}
	return r.SecondaryIdentifier
}
