package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/gorilla/mux"
)

type signUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type signInRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"client_description"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	id, err := s.engine.SignUp(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully signup", "id": id})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	pair, err := s.engine.SignIn(r.Context(), req.Username, req.Password, req.Description)
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairBody{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// principal returns the authenticated caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthenticate)
	}
	return p, ok
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := s.engine.SignOut(r.Context(), p.UserID, p.Token); err != nil {
		s.failDefault(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "signout")
}

func (s *Server) tokenStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	status, err := s.engine.GetSessionStatus(r.Context(), p.UserID, p.Token)
	if err != nil {
		s.failDefault(w, r, err)
		return
	}
	code := http.StatusOK
	if status == authgate.SessionExpired {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]authgate.SessionStatus{"status": status})
}

// refreshStatus keeps the historical 500 for rejected refresh tokens;
// terminated accounts are a route denial.
func refreshStatus(err error) int {
	switch {
	case errors.Is(err, authgate.ErrAccountInactive):
		return http.StatusUnauthorized
	case errors.Is(err, authgate.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) refreshAccess(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	access, err := s.engine.RefreshAccess(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, refreshStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) refreshBoth(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.failDefault(w, r, err)
		return
	}

	pair, err := s.engine.RefreshBoth(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, refreshStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairBody{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) revokeTokens(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.RevokeAll(r.Context(), mux.Vars(r)["user_id"]); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w)
}
