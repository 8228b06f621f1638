package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authgate"
)

type otpRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"token_otp"`
}

// failOTP answers every second-factor rejection with the same 401 body.
func (s *Server) failOTP(w http.ResponseWriter, r *http.Request, err error) {
	if authgate.KindOf(err) != authgate.KindAuthentication {
		s.failDefault(w, r, err)
		return
	}
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error:   "Token is invalid or user does not exist",
		Message: msgOTPFailure,
	})
}

// decodeOTP decodes the body; a malformed body is an OTP rejection.
func (s *Server) decodeOTP(w http.ResponseWriter, r *http.Request) (otpRequest, bool) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failOTP(w, r, authgate.ErrInvalidTokenOrUser)
		return otpRequest{}, false
	}
	return req, true
}

func (s *Server) otpGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOTP(w, r)
	if !ok {
		return
	}

	enrollment, err := s.engine.GenerateOTPSecret(r.Context(), req.UserID)
	if err != nil {
		s.failOTP(w, r, err)
		return
	}
	if enrollment.AlreadyEnabled {
		writeJSON(w, http.StatusOK, map[string]bool{"otp_enabled": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"base32":       enrollment.Secret,
		"otp_auth_url": enrollment.ProvisionURI,
	})
}

func (s *Server) otpVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOTP(w, r)
	if !ok {
		return
	}

	state, err := s.engine.VerifyOTPEnrollment(r.Context(), req.UserID, req.Code)
	if err != nil {
		s.failOTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"otp_verified": true, "user": state})
}

func (s *Server) otpValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOTP(w, r)
	if !ok {
		return
	}

	if err := s.engine.ValidateOTP(r.Context(), req.UserID, req.Code); err != nil {
		s.failOTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"otp_valid": true})
}

func (s *Server) otpDisable(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOTP(w, r)
	if !ok {
		return
	}

	state, err := s.engine.DisableOTP(r.Context(), req.UserID)
	if err != nil {
		s.failOTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"otp_disabled": true, "user": state})
}
