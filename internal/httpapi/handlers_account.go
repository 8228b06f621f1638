package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/gorilla/mux"
)

type changePasswordRequest struct {
	UserID      string `json:"user_id"`
	Password    string `json:"password"`
	NewPassword string `json:"new_password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type newPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	if err := s.engine.ChangePassword(r.Context(), req.UserID, req.Password, req.NewPassword); err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeSuccess(w)
}

// writeIssued answers a one-time token issuance. The plaintext token is only
// present when the engine exposes tokens.
func writeIssued(w http.ResponseWriter, issue authgate.OneTimeIssue) {
	if issue.Token == "" {
		writeSuccess(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "success",
		"user_id":    issue.UserID,
		"token":      issue.Token,
		"expires_at": issue.ExpiresAt,
	})
}

func (s *Server) issueReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	issue, err := s.engine.IssuePasswordReset(r.Context(), req.Email)
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeIssued(w, issue)
}

func (s *Server) issueVerify(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	issue, err := s.engine.IssueEmailVerification(r.Context(), req.Email)
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeIssued(w, issue)
}

// consumeStatus answers every rejected one-time token with 400.
func consumeStatus(err error) int {
	if errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		return http.StatusBadRequest
	}
	return statusFor(err)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req newPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	vars := mux.Vars(r)
	if err := s.engine.ResetPassword(r.Context(), vars["user_id"], vars["token"], req.NewPassword); err != nil {
		s.fail(w, r, consumeStatus(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.engine.VerifyEmail(r.Context(), q.Get("user_id"), q.Get("token")); err != nil {
		s.fail(w, r, consumeStatus(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) terminateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	if err := s.engine.TerminateUser(r.Context(), req.UserID); err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	profile, err := s.engine.GetUser(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// listSessions answers 404 when the user has no live session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.ListSessions(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	if len(sessions) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: publicError(authgate.ErrNotFound), Message: msgTokenNotFound})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) userRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.UserRoles(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}
