package authgate

import "errors"

// Kind is the failure taxonomy every engine error maps to. Transports map a
// Kind to a status code; callers should not switch on error strings.
type Kind uint8

const (
	// KindInternal covers store, crypto and transport failures.
	KindInternal Kind = iota
	// KindValidation is a malformed or incomplete request.
	KindValidation
	// KindConflict is a duplicate username or email.
	KindConflict
	// KindAuthentication covers bad credentials, invalid or expired tokens and
	// invalid one-time tokens.
	KindAuthentication
	// KindAuthorization is a role or ownership denial.
	KindAuthorization
	// KindNotFound is an absent entity.
	KindNotFound
	// KindRateLimited is an exhausted attempt budget.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

var (
	// ErrValidation reports a malformed request body or missing field.
	ErrValidation = errors.New("invalid request")
	// ErrConflict reports a duplicate username or email at sign-up.
	ErrConflict = errors.New("duplicated username or email")
	// ErrNotFound is returned by stores for absent entities.
	ErrNotFound = errors.New("item does not exist")
	// ErrInvalidCredentials is the single sign-in failure for unknown
	// usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidPassword reports a wrong current password on password change.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidToken reports a bearer or refresh token that failed
	// verification or matched no session.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTokenOrUser is the uniform one-time token and OTP failure.
	ErrInvalidTokenOrUser = errors.New("invalid token or user")
	// ErrEmailNotFound reports an unknown email at one-time token issuance.
	ErrEmailNotFound = errors.New("email does not exist")
	// ErrAccountInactive reports a terminated account.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrAccessDenied reports an ownership gate failure.
	ErrAccessDenied = errors.New("access denied")
	// ErrRoleDenied reports a role gate failure.
	ErrRoleDenied = errors.New("role not permitted for route")
	// ErrRateLimited reports an exhausted attempt budget.
	ErrRateLimited = errors.New("too many attempts")
	// ErrMailDelivery reports a failed out-of-band delivery.
	ErrMailDelivery = errors.New("email delivery failed")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidPassword):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidTokenOrUser):
		return KindAuthentication
	case errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrRoleDenied):
		return KindAuthorization
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEmailNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
