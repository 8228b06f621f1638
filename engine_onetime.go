package authgate

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/password"
)

// OneTimeIssue is the result of issuing a reset or verification token.
// Token is set only when OneTime.ExposeTokens is enabled.
type OneTimeIssue struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

type oneTimeSpec struct {
	kind         OneTimeKind
	scope        rate.Scope
	ttl          time.Duration
	issueEvent   string
	consumeEvent string
	issued       MetricID
	consumed     MetricID
	failed       MetricID
	subject      string
	linkPath     string
	linkPreamble string
	linkText     string
}

func (e *Engine) oneTimeSpec(kind OneTimeKind) oneTimeSpec {
	if kind == OneTimeVerifyEmail {
		return oneTimeSpec{
			kind:         OneTimeVerifyEmail,
			scope:        rate.ScopeVerify,
			ttl:          e.config.OneTime.VerifyTTL,
			issueEvent:   auditEventVerifyIssue,
			consumeEvent: auditEventVerifyConsume,
			issued:       MetricVerifyIssued,
			consumed:     MetricVerifyConsumed,
			failed:       MetricVerifyFailure,
			subject:      "Verify your email address",
			linkPath:     "/email/token/verify",
			linkPreamble: "Confirm your email address by opening the link below.",
			linkText:     "Verify email",
		}
	}
	return oneTimeSpec{
		kind:         OneTimeReset,
		scope:        rate.ScopeReset,
		ttl:          e.config.OneTime.ResetTTL,
		issueEvent:   auditEventResetIssue,
		consumeEvent: auditEventResetConsume,
		issued:       MetricResetIssued,
		consumed:     MetricResetConsumed,
		failed:       MetricResetFailure,
		subject:      "Reset your password",
		linkPath:     "/reset/password",
		linkPreamble: "A password reset was requested for your account. The link below is valid once.",
		linkText:     "Reset password",
	}
}

// IssuePasswordReset stores a fresh reset token for the account of email
// and mails it. It fails with ErrEmailNotFound for unknown addresses.
func (e *Engine) IssuePasswordReset(ctx context.Context, email string) (OneTimeIssue, error) {
	return e.issueOneTime(ctx, e.oneTimeSpec(OneTimeReset), email)
}

// IssueEmailVerification stores a fresh email verification token for the
// account of email and mails it.
func (e *Engine) IssueEmailVerification(ctx context.Context, email string) (OneTimeIssue, error) {
	return e.issueOneTime(ctx, e.oneTimeSpec(OneTimeVerifyEmail), email)
}

func (e *Engine) issueOneTime(ctx context.Context, spec oneTimeSpec, email string) (OneTimeIssue, error) {
	if err := e.ready(); err != nil {
		return OneTimeIssue{}, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return OneTimeIssue{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if err := e.checkLimit(ctx, spec.scope, strings.ToLower(email), true); err != nil {
		return OneTimeIssue{}, err
	}

	u, err := e.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.emitAudit(ctx, spec.issueEvent, false, "", "", ErrEmailNotFound, nil)
		return OneTimeIssue{}, ErrEmailNotFound
	}
	if err != nil {
		return OneTimeIssue{}, err
	}

	token, err := internal.NewOneTimeToken(e.config.OneTime.TokenLength)
	if err != nil {
		return OneTimeIssue{}, fmt.Errorf("generate token: %w", err)
	}
	digest, err := e.hash(ctx, token, password.TierLow)
	if err != nil {
		return OneTimeIssue{}, fmt.Errorf("hash token: %w", err)
	}

	expiresAt := e.now().Add(spec.ttl).UTC()
	if err := e.verifications.SetToken(ctx, u.ID, spec.kind, digest, expiresAt); err != nil {
		e.emitAudit(ctx, spec.issueEvent, false, u.ID, "", err, nil)
		return OneTimeIssue{}, fmt.Errorf("store token: %w", err)
	}

	if !e.config.OneTime.TestMode {
		body := e.oneTimeMail(spec, u.ID, token, expiresAt)
		if err := e.mailer.Send(ctx, u.Email, spec.subject, body); err != nil {
			e.metricInc(MetricMailFailure)
			e.log.WithError(err).WithField("user_id", u.ID).Error("one-time token delivery failed")
			e.emitAudit(ctx, spec.issueEvent, false, u.ID, "", ErrMailDelivery, nil)
			return OneTimeIssue{}, fmt.Errorf("%w: %v", ErrMailDelivery, err)
		}
	}

	e.metricInc(spec.issued)
	e.emitAudit(ctx, spec.issueEvent, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"kind": spec.kind.String()}
	})

	out := OneTimeIssue{UserID: u.ID, ExpiresAt: expiresAt}
	if e.config.OneTime.ExposeTokens {
		out.Token = token
	}
	return out, nil
}

func (e *Engine) oneTimeMail(spec oneTimeSpec, userID, token string, expiresAt time.Time) string {
	base := strings.TrimRight(e.config.OneTime.BaseURL, "/")
	var link string
	if spec.kind == OneTimeReset {
		link = base + spec.linkPath + "/" + url.PathEscape(userID) + "/" + url.PathEscape(token)
	} else {
		q := url.Values{}
		q.Set("user_id", userID)
		q.Set("token", token)
		link = base + spec.linkPath + "?" + q.Encode()
	}

	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(html.EscapeString(spec.linkPreamble))
	b.WriteString("</p><p><a href=\"")
	b.WriteString(html.EscapeString(link))
	b.WriteString("\">")
	b.WriteString(html.EscapeString(spec.linkText))
	b.WriteString("</a></p><p>The link expires at ")
	b.WriteString(expiresAt.Format(time.RFC1123))
	b.WriteString(".</p>")
	return b.String()
}

// ResetPassword consumes a reset token and sets next as the password of
// userID. Every session of the user is revoked.
func (e *Engine) ResetPassword(ctx context.Context, userID, token, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.validatePassword(next); err != nil {
		return err
	}
	return e.consumeOneTime(ctx, e.oneTimeSpec(OneTimeReset), userID, token, func(ctx context.Context) error {
		return e.setPassword(ctx, userID, next)
	})
}

// VerifyEmail consumes an email verification token and marks the address
// of userID verified.
func (e *Engine) VerifyEmail(ctx context.Context, userID, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.consumeOneTime(ctx, e.oneTimeSpec(OneTimeVerifyEmail), userID, token, func(ctx context.Context) error {
		return e.verifications.SetEmailVerified(ctx, userID)
	})
}

// consumeOneTime checks token against the stored hash for spec.kind, clears
// the slot and then applies effect. Every rejection is
// ErrInvalidTokenOrUser. The slot is cleared with a conditional write, so a
// token is accepted at most once even under concurrent use.
func (e *Engine) consumeOneTime(ctx context.Context, spec oneTimeSpec, userID, token string, effect func(context.Context) error) error {
	fail := func(cause error) error {
		e.metricInc(spec.failed)
		e.emitAudit(ctx, spec.consumeEvent, false, userID, "", cause, nil)
		return cause
	}

	if userID == "" || token == "" {
		return fail(ErrInvalidTokenOrUser)
	}

	v, err := e.verifications.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return fail(ErrInvalidTokenOrUser)
	}
	if err != nil {
		return err
	}

	stored, expiresAt := v.Token(spec.kind)
	if stored == "" {
		return fail(ErrInvalidTokenOrUser)
	}
	ok, err := e.compare(ctx, token, stored)
	if err != nil {
		return fmt.Errorf("compare token: %w", err)
	}
	if !ok || !e.now().Before(expiresAt) {
		return fail(ErrInvalidTokenOrUser)
	}

	cleared, err := e.verifications.ClearToken(ctx, userID, spec.kind, stored)
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	if !cleared {
		return fail(ErrInvalidTokenOrUser)
	}

	if err := effect(ctx); err != nil {
		e.emitAudit(ctx, spec.consumeEvent, false, userID, "", err, nil)
		return err
	}

	e.metricInc(spec.consumed)
	e.emitAudit(ctx, spec.consumeEvent, true, userID, "", nil, nil)
	return nil
}
