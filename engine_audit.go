package authgate

import (
	"context"
	"errors"
)

const (
	auditEventSignUp          = "sign_up"
	auditEventSignIn          = "sign_in"
	auditEventSignOut         = "sign_out"
	auditEventRevokeAll       = "revoke_all"
	auditEventRefreshAccess   = "refresh_access"
	auditEventRefreshBoth     = "refresh_both"
	auditEventPasswordChange  = "password_change"
	auditEventPasswordRehash  = "password_rehash"
	auditEventTerminate       = "account_terminate"
	auditEventResetIssue      = "password_reset_issue"
	auditEventResetConsume    = "password_reset_consume"
	auditEventVerifyIssue     = "email_verify_issue"
	auditEventVerifyConsume   = "email_verify_consume"
	auditEventOTPGenerate     = "otp_generate"
	auditEventOTPVerify       = "otp_verify"
	auditEventOTPValidate     = "otp_validate"
	auditEventOTPDisable      = "otp_disable"
	auditEventRateLimitDenied = "rate_limit_denied"
)

// AuditErrorCode is the stable failure code carried by audit events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidPassword    AuditErrorCode = "invalid_password"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidOneTime     AuditErrorCode = "invalid_token_or_user"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrDenied             AuditErrorCode = "denied"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMailDelivery       AuditErrorCode = "mail_delivery"
	auditErrBusy               AuditErrorCode = "hash_pool_timeout"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitDenied, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":   scope,
			"subject": subject,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidPassword):
		return auditErrInvalidPassword
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidTokenOrUser):
		return auditErrInvalidOneTime
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEmailNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrRoleDenied):
		return auditErrDenied
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrMailDelivery):
		return auditErrMailDelivery
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return auditErrBusy
	default:
		return auditErrInternal
	}
}
