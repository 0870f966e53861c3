package auth

// State is a step of the federated login sub-flow.
type State int

const (
	NotStarted State = iota
	CheckLoginVisible
	ClickLogin
	ClickFederatedProvider
	FillCredentials
	OTPAttempt
	ConsentGrant
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case CheckLoginVisible:
		return "check_login_visible"
	case ClickLogin:
		return "click_login"
	case ClickFederatedProvider:
		return "click_federated_provider"
	case FillCredentials:
		return "fill_credentials"
	case OTPAttempt:
		return "otp_attempt"
	case ConsentGrant:
		return "consent_grant"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the flow stops at s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
