package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricSignUpSuccess, Name: "authgate_signup_success_total", Help: "Successful sign-ups."},
	{ID: authgate.MetricSignUpConflict, Name: "authgate_signup_conflict_total", Help: "Sign-ups rejected for a duplicate username or email."},
	{ID: authgate.MetricSignInSuccess, Name: "authgate_signin_success_total", Help: "Successful sign-ins."},
	{ID: authgate.MetricSignInFailure, Name: "authgate_signin_failure_total", Help: "Sign-ins rejected for bad credentials."},
	{ID: authgate.MetricSignInInactive, Name: "authgate_signin_inactive_total", Help: "Sign-ins rejected for a terminated account."},
	{ID: authgate.MetricSignInRateLimited, Name: "authgate_signin_rate_limited_total", Help: "Sign-ins rejected by the attempt limiter."},
	{ID: authgate.MetricRefreshAccessSuccess, Name: "authgate_refresh_access_success_total", Help: "Access token refreshes."},
	{ID: authgate.MetricRefreshBothSuccess, Name: "authgate_refresh_both_success_total", Help: "Full token rotations."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authgate.MetricRefreshRaceLost, Name: "authgate_refresh_race_lost_total", Help: "Refreshes that lost the conditional update to a concurrent rotation or revocation."},
	{ID: authgate.MetricSessionStatusOK, Name: "authgate_session_status_ok_total", Help: "Session status checks answered ok."},
	{ID: authgate.MetricSessionStatusExpired, Name: "authgate_session_status_expired_total", Help: "Session status checks answered expired."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Created sessions."},
	{ID: authgate.MetricSignOut, Name: "authgate_signout_total", Help: "Single-session sign-outs."},
	{ID: authgate.MetricRevokeAll, Name: "authgate_revoke_all_total", Help: "Revoke-all operations."},
	{ID: authgate.MetricPasswordChangeSuccess, Name: "authgate_password_change_success_total", Help: "Successful password changes."},
	{ID: authgate.MetricPasswordChangeInvalid, Name: "authgate_password_change_invalid_total", Help: "Password changes rejected for a wrong current password."},
	{ID: authgate.MetricPasswordRehashed, Name: "authgate_password_rehashed_total", Help: "Digests upgraded to the configured cost at sign-in."},
	{ID: authgate.MetricResetIssued, Name: "authgate_reset_issued_total", Help: "Issued password reset tokens."},
	{ID: authgate.MetricResetConsumed, Name: "authgate_reset_consumed_total", Help: "Consumed password reset tokens."},
	{ID: authgate.MetricResetFailure, Name: "authgate_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: authgate.MetricVerifyIssued, Name: "authgate_verify_issued_total", Help: "Issued email verification tokens."},
	{ID: authgate.MetricVerifyConsumed, Name: "authgate_verify_consumed_total", Help: "Consumed email verification tokens."},
	{ID: authgate.MetricVerifyFailure, Name: "authgate_verify_failure_total", Help: "Rejected email verification tokens."},
	{ID: authgate.MetricOTPGenerated, Name: "authgate_otp_generated_total", Help: "Generated TOTP secrets."},
	{ID: authgate.MetricOTPEnrollSuccess, Name: "authgate_otp_enroll_success_total", Help: "Completed TOTP enrollments."},
	{ID: authgate.MetricOTPValidateSuccess, Name: "authgate_otp_validate_success_total", Help: "Accepted TOTP codes at login."},
	{ID: authgate.MetricOTPFailure, Name: "authgate_otp_failure_total", Help: "Rejected TOTP codes."},
	{ID: authgate.MetricOTPDisabled, Name: "authgate_otp_disabled_total", Help: "Second factors turned off."},
	{ID: authgate.MetricAccountTerminated, Name: "authgate_account_terminated_total", Help: "Terminated accounts."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Requests denied by any attempt limiter."},
	{ID: authgate.MetricMailFailure, Name: "authgate_mail_failure_total", Help: "Failed one-time token deliveries."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricHashLatency, Name: "authgate_hash_latency_seconds", Help: "Password and token hashing latency, including pool wait."},
}

// HistogramBounds are the upper bounds of the engine buckets in seconds.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
