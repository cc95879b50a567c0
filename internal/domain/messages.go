package domain

// PurposeLabel returns the human-readable label used in message copy for a
// purpose. Copy never confirms whether an account exists for the contact
// address; flows above this service add their own "if an account exists"
// phrasing.
func PurposeLabel(p Purpose) string {
	switch p {
	case PurposeSignup:
		return "Sign-up verification"
	case PurposePasswordRecovery:
		return "Password recovery"
	case PurposeLoginSecondStep:
		return "Login verification"
	case PurposeAgentOrder:
		return "Order verification"
	}
	return "Verification"
}
