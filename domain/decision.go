package domain

// DecisionKind enumerates the outcomes of the session gateway.
type DecisionKind string

const (
	DecisionAllow                     DecisionKind = "allow"
	DecisionRedirectToLogin           DecisionKind = "redirect_login"
	DecisionRedirectToPasswordChange  DecisionKind = "redirect_password_change"
	DecisionSetCookieAndRedirectClean DecisionKind = "set_cookie_redirect_clean"
)

// TokenSource tells where the gateway found the bearer token.
type TokenSource string

const (
	TokenSourceNone   TokenSource = ""
	TokenSourceCookie TokenSource = "cookie"
	TokenSourceQuery  TokenSource = "query"
)

// Decision is the single outcome produced for an inbound request.
type Decision struct {
	Kind DecisionKind
	// Location is the redirect target; empty for DecisionAllow.
	Location string
	// Token is set when the decision needs the session cookie issued
	// (SetCookieAndRedirectClean) or forwarded downstream (Allow).
	Token string
	// Subject is the account ID claimed by a token the authority accepted.
	// Empty for opaque tokens and for requests that were not verified.
	Subject string
	// ClearSession asks the gateway to expire the token and user cookies.
	ClearSession bool
	// Public marks decisions taken without looking at credentials.
	Public bool
	// Reason is a short machine-friendly explanation used in logs and audit events.
	Reason string
}

func (d Decision) IsRedirect() bool {
	return d.Kind != DecisionAllow && d.Location != ""
}
