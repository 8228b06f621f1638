package httpapi

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUpAndSignIn(t *testing.T) {
	env := newAPI(t)

	rec, body := env.call(t, http.MethodPost, "/v1/signup", "", map[string]string{
		"username": "kaew", "password": "test1234", "email": "kaew@email.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully signup", body["message"])
	assert.NotEmpty(t, body["id"])

	rec, body = env.call(t, http.MethodPost, "/v1/signup", "", map[string]string{
		"username": "kaew", "password": "test1234", "email": "other@email.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Duplicated username or email", body["error"])
	assert.Equal(t, "Authen: Invalid request", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/signin", "", map[string]string{
		"username": "kaew", "password": "test1234",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])

	rec, body = env.call(t, http.MethodPost, "/v1/signin", "", map[string]string{
		"username": "kaew", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid username or password", body["error"])
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	env := newAPI(t)

	for _, raw := range []string{"{not json", ""} {
		req := httptest.NewRequest(http.MethodPost, "/v1/signup", strings.NewReader(raw))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Contains(t, rec.Body.String(), "invalid request", raw)
	}
}

func TestTokenStatusAndSignOut(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodGet, "/v1/status/token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please authenticate", body["message"])

	rec, body = env.call(t, http.MethodGet, "/v1/status/token", "Some_token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please authenticate", body["message"])

	rec, body = env.call(t, http.MethodGet, "/v1/status/token", acc.access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = env.call(t, http.MethodPost, "/v1/signout", acc.access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signout", body["message"])

	rec, body = env.call(t, http.MethodGet, "/v1/status/token", acc.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "expired", body["status"])

	rec, _ = env.call(t, http.MethodPost, "/v1/signout", acc.access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRoutes(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/auth/refresh/token", "", map[string]string{"refresh_token": acc.refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	access := body["access_token"].(string)
	assert.NotEqual(t, acc.access, access)

	rec, body = env.call(t, http.MethodPost, "/v1/auth/refresh/tokens", "", map[string]string{"refresh_token": acc.refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, acc.refresh, body["refresh_token"])

	for _, path := range []string{"/v1/auth/refresh/token", "/v1/auth/refresh/tokens"} {
		rec, body = env.call(t, http.MethodPost, path, "", map[string]string{"refresh_token": acc.refresh})
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Equal(t, "Invalid token", body["error"], path)
	}

	rec, _ = env.call(t, http.MethodPost, "/v1/auth/refresh/token", "", map[string]string{"refresh_token": acc.access})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRevokeTokensOwnership(t *testing.T) {
	env := newAPI(t)
	kaew := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")
	other := env.signUpAndIn(t, "other", "test1234", "other@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/revoke/token/"+other.id, kaew.access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access deny", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/revoke/token/"+kaew.id, kaew.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["message"])

	rec, _ = env.call(t, http.MethodGet, "/v1/status/token", kaew.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.call(t, http.MethodGet, "/v1/status/token", other.access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/password/change", acc.access, map[string]string{
		"user_id": "wrong_id", "password": "wrong_password", "new_password": "test2222",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access deny", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/password/change", acc.access, map[string]string{
		"user_id": acc.id, "password": "wrong_password", "new_password": "test2222",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid password", body["error"])
	assert.Equal(t, "Authen: Invalid request", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/password/change", acc.access, map[string]string{
		"user_id": acc.id, "password": "test1234", "new_password": "test1111",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["message"])

	rec, body = env.call(t, http.MethodGet, "/v1/user/tokens/"+acc.id, acc.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Token: item does not exist", body["message"])

	rec, _ = env.call(t, http.MethodGet, "/v1/status/token", acc.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.call(t, http.MethodPost, "/v1/signin", "", map[string]string{"username": "kaew", "password": "test1111"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/password/reset/generate", "", map[string]string{"email": "notfound@email.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Email does not exist", body["error"])
	assert.Equal(t, "Authen: Invalid request", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/password/reset/generate", "", map[string]string{"email": "kaew@email.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["message"])
	token := body["token"].(string)
	assert.Equal(t, acc.id, body["user_id"])

	rec, body = env.call(t, http.MethodPut, "/v1/reset/password/"+acc.id+"/fake_token", "", map[string]string{"new_password": "test2222"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid token or user", body["error"])

	rec, _ = env.call(t, http.MethodPut, "/v1/reset/password/9999999/fake_token", "", map[string]string{"new_password": "test2222"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/v1/reset/password/" + url.PathEscape(acc.id) + "/" + url.PathEscape(token)
	rec, _ = env.call(t, http.MethodPut, path, "", map[string]string{"new_password": "test2222"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = env.call(t, http.MethodPut, path, "", map[string]string{"new_password": "test3333"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.call(t, http.MethodPost, "/v1/signin", "", map[string]string{"username": "kaew", "password": "test2222"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.call(t, http.MethodGet, "/v1/status/token", acc.access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/email/token/generate", "", map[string]string{"email": "KAEW@email.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := body["token"].(string)

	q := url.Values{"user_id": {acc.id}, "token": {"nope"}}
	rec, _ = env.call(t, http.MethodPost, "/v1/email/token/verify?"+q.Encode(), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.Set("token", token)
	rec, _ = env.call(t, http.MethodPost, "/v1/email/token/verify?"+q.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.call(t, http.MethodGet, "/v1/user/"+acc.id, acc.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["email_verified"])
	assert.NotContains(t, rec.Body.String(), "password")
}

// totpNow computes the current RFC 6238 code (SHA1, 6 digits, 30 s).
func totpNow(t *testing.T, secret string) string {
	t.Helper()
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
	require.NoError(t, err)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(time.Now().Unix()/30))
	mac := hmac.New(sha1.New, raw)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", bin%1000000)
}

func TestOTPRoutes(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/otp/generate", acc.access, map[string]string{"user_id": acc.id})
	require.Equal(t, http.StatusOK, rec.Code)
	secret := body["base32"].(string)
	assert.True(t, strings.HasPrefix(body["otp_auth_url"].(string), "otpauth://totp/"))

	rec, body = env.call(t, http.MethodPost, "/v1/otp/verify", acc.access, map[string]string{"user_id": acc.id, "token_otp": "testka"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OTP: Token is invalid or user does not exist", body["message"])
	assert.Equal(t, "Token is invalid or user does not exist", body["error"])

	rec, _ = env.call(t, http.MethodPost, "/v1/otp/verify", acc.access, map[string]string{"test": "testka"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.call(t, http.MethodPost, "/v1/otp/verify", acc.access, map[string]string{"user_id": acc.id, "token_otp": totpNow(t, secret)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["otp_verified"])
	user := body["user"].(map[string]any)
	assert.Equal(t, true, user["otp_enabled"])

	rec, body = env.call(t, http.MethodPost, "/v1/otp/generate", acc.access, map[string]string{"user_id": acc.id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["otp_enabled"])

	rec, body = env.call(t, http.MethodPost, "/v1/otp/validate", "", map[string]string{"user_id": acc.id, "token_otp": "testka"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OTP: Token is invalid or user does not exist", body["message"])

	rec, _ = env.call(t, http.MethodPost, "/v1/otp/validate", "", map[string]string{"test": "testka"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.call(t, http.MethodPost, "/v1/otp/validate", "", map[string]string{"user_id": acc.id, "token_otp": totpNow(t, secret)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["otp_valid"])

	rec, _ = env.call(t, http.MethodPost, "/v1/otp/disable", acc.access, map[string]string{"test": "test"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.call(t, http.MethodPost, "/v1/otp/disable", acc.access, map[string]string{"user_id": acc.id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["otp_disabled"])
	assert.Contains(t, body, "user")
}

func TestOwnershipGatedReads(t *testing.T) {
	env := newAPI(t)
	kaew := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")
	other := env.signUpAndIn(t, "other", "test1234", "other@email.com")

	rec, body := env.call(t, http.MethodGet, "/v1/user/"+other.id, kaew.access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access deny", body["message"])

	rec, body = env.call(t, http.MethodGet, "/v1/user/"+kaew.id, kaew.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kaew", body["username"])

	rec, _ = env.call(t, http.MethodGet, "/v1/role/user/"+kaew.id, kaew.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["User"]`, rec.Body.String())

	rec, _ = env.call(t, http.MethodGet, "/v1/user/tokens/"+kaew.id, kaew.access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_description":"authgate-test"`)
	assert.NotContains(t, rec.Body.String(), "hash")
}

func TestTerminateUser(t *testing.T) {
	env := newAPI(t)
	acc := env.signUpAndIn(t, "kaew", "test1234", "kaew@email.com")

	rec, body := env.call(t, http.MethodPost, "/v1/user/terminate", acc.access, map[string]string{"user_id": acc.id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["message"])

	rec, body = env.call(t, http.MethodPost, "/v1/signin", "", map[string]string{"username": "kaew", "password": "test1234"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized to access this route", body["message"])

	rec, _ = env.call(t, http.MethodPost, "/v1/auth/refresh/token", "", map[string]string{"refresh_token": acc.refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
