package authgate

import "time"

// TOTPCodeAt returns the code cfg accepts for secret at the step holding at.
func TOTPCodeAt(cfg TOTPConfig, secret string, at time.Time) (string, error) {
	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
}
