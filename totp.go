package authgate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

// GenerateSecret returns a fresh 160-bit secret, base32 without padding.
func (m *totpManager) GenerateSecret() (string, error) {
	if m == nil {
		return "", ErrEngineNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI an authenticator app scans.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	name := account
	if m.config.Label != "" {
		name = m.config.Label
	}
	label := url.PathEscape(issuer + ":" + name)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the steps within the configured skew of
// now. Malformed codes are a plain mismatch.
func (m *totpManager) VerifyCode(secretBase32, code string, now time.Time) (bool, error) {
	if m == nil {
		return false, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, nil
	}

	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return false, err
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	matched := false
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		// keep scanning so timing does not reveal which step matched
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			matched = true
		}
	}

	return matched, nil
}

func decodeTOTPSecret(secretBase32 string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secretBase32), "="))
	if cleaned == "" {
		return nil, errors.New("empty totp secret")
	}
	raw, err := totpEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return raw, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
