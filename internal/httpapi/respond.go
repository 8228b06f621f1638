package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes = 1 << 20

	msgInvalidRequest = "Authen: Invalid request"
	msgRoleDenied     = "Unauthorized to access this route"
	msgUnauthenticate = "Please authenticate"
	msgOTPFailure     = "OTP: Token is invalid or user does not exist"
	msgTokenNotFound  = "Token: item does not exist"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageBody{Message: message})
}

func writeSuccess(w http.ResponseWriter) {
	writeMessage(w, http.StatusOK, "success")
}

// decodeJSON reads a JSON object into dest. Unknown fields are ignored.
func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", authgate.ErrValidation)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed JSON body", authgate.ErrValidation)
	}
	return nil
}

// publicError is the client-facing detail of err. Internal failures never
// leak their cause.
func publicError(err error) string {
	switch {
	case errors.Is(err, authgate.ErrConflict):
		return "Duplicated username or email"
	case errors.Is(err, authgate.ErrInvalidCredentials):
		return "Invalid username or password"
	case errors.Is(err, authgate.ErrInvalidPassword):
		return "Invalid password"
	case errors.Is(err, authgate.ErrInvalidTokenOrUser):
		return "Invalid token or user"
	case errors.Is(err, authgate.ErrInvalidToken):
		return "Invalid token"
	case errors.Is(err, authgate.ErrEmailNotFound):
		return "Email does not exist"
	case errors.Is(err, authgate.ErrNotFound):
		return "Item does not exist"
	case errors.Is(err, authgate.ErrAccountInactive):
		return "Account is inactive"
	case errors.Is(err, authgate.ErrRateLimited):
		return "Too many attempts"
	case errors.Is(err, authgate.ErrMailDelivery):
		return "Email delivery failed"
	case errors.Is(err, authgate.ErrValidation):
		return err.Error()
	default:
		return "Internal error"
	}
}

// statusFor maps an engine error to its default status code.
func statusFor(err error) int {
	if errors.Is(err, authgate.ErrInvalidCredentials) {
		return http.StatusBadRequest
	}
	switch authgate.KindOf(err) {
	case authgate.KindValidation, authgate.KindConflict:
		return http.StatusBadRequest
	case authgate.KindAuthentication, authgate.KindAuthorization:
		return http.StatusUnauthorized
	case authgate.KindNotFound:
		return http.StatusNotFound
	case authgate.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with status. Authorization failures carry the route
// denial message; internal failures are logged with their cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError && authgate.KindOf(err) == authgate.KindInternal {
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	if authgate.KindOf(err) == authgate.KindAuthorization {
		writeMessage(w, status, msgRoleDenied)
		return
	}
	writeJSON(w, status, errorBody{Error: publicError(err), Message: msgInvalidRequest})
}

func (s *Server) failDefault(w http.ResponseWriter, r *http.Request, err error) {
	s.fail(w, r, statusFor(err), err)
}
