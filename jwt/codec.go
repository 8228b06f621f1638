package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only error Verify returns for a token it rejects.
var ErrInvalidToken = errors.New("invalid token")

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Kind distinguishes the two token families. Each kind has its own key and
// lifetime; a token of one kind never verifies as the other.
type Kind uint8

const (
	KindAccess Kind = iota + 1
	KindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Key is the key material of one kind. HS256 uses Secret; Ed25519 uses
// PrivateKey and PublicKey, raw or PEM encoded.
type Key struct {
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
}

// Config configures a Codec.
type Config struct {
	Method     SigningMethod
	Access     Key
	Refresh    Key
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Payload is the identity carried by a token.
type Payload struct {
	SubjectID string
	Username  string
}

// Claims is the JSON body of a token.
type Claims struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

type keyPair struct {
	sign   interface{}
	verify interface{}
}

// Codec signs and verifies access and refresh tokens.
type Codec struct {
	config Config
	method jwt.SigningMethod
	keys   map[Kind]keyPair
}

// NewCodec validates cfg and resolves its keys.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Method == "" {
		cfg.Method = MethodHS256
	}

	c := &Codec{config: cfg, keys: make(map[Kind]keyPair, 2)}
	switch cfg.Method {
	case MethodHS256:
		c.method = jwt.SigningMethodHS256
		if len(cfg.Access.Secret) == 0 || len(cfg.Refresh.Secret) == 0 {
			return nil, errors.New("hs256 requires access and refresh secrets")
		}
		if bytes.Equal(cfg.Access.Secret, cfg.Refresh.Secret) {
			return nil, errors.New("access and refresh secrets must differ")
		}
		c.keys[KindAccess] = keyPair{sign: cfg.Access.Secret, verify: cfg.Access.Secret}
		c.keys[KindRefresh] = keyPair{sign: cfg.Refresh.Secret, verify: cfg.Refresh.Secret}
	case MethodEd25519:
		c.method = jwt.SigningMethodEdDSA
		for kind, key := range map[Kind]Key{KindAccess: cfg.Access, KindRefresh: cfg.Refresh} {
			priv, err := parseEdPrivateKey(key.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("%s key: %w", kind, err)
			}
			pub := priv.Public().(ed25519.PublicKey)
			if len(key.PublicKey) > 0 {
				if pub, err = parseEdPublicKey(key.PublicKey); err != nil {
					return nil, fmt.Errorf("%s key: %w", kind, err)
				}
			}
			c.keys[kind] = keyPair{sign: priv, verify: pub}
		}
		if c.keys[KindAccess].verify.(ed25519.PublicKey).Equal(c.keys[KindRefresh].verify) {
			return nil, errors.New("access and refresh keys must differ")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return c, nil
}

// TTL returns the lifetime of tokens of kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

// Sign issues a token of kind for p and returns it with its expiry. Every
// token carries a random jti, so two tokens signed in the same second for the
// same subject still differ.
func (c *Codec) Sign(kind Kind, p Payload) (string, time.Time, error) {
	keys, ok := c.keys[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown token kind %d", kind)
	}

	now := c.config.Now()
	expiresAt := now.Add(c.TTL(kind))
	claims := Claims{
		UID:      p.SubjectID,
		Username: p.Username,
		Type:     kind.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(keys.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to the second; report what the token says.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and kind and returns the payload. Any
// failure is ErrInvalidToken.
func (c *Codec) Verify(kind Kind, token string) (Payload, error) {
	claims, err := c.parse(kind, token)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	return Payload{SubjectID: claims.UID, Username: claims.Username}, nil
}

// Expired reports whether an otherwise authentic token of kind has passed its
// expiry. Tokens with a bad signature report false.
func (c *Codec) Expired(kind Kind, token string) bool {
	_, err := c.parse(kind, token)
	return errors.Is(err, jwt.ErrTokenExpired)
}

func (c *Codec) parse(kind Kind, token string) (*Claims, error) {
	keys, ok := c.keys[kind]
	if !ok {
		return nil, fmt.Errorf("unknown token kind %d", kind)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return keys.verify, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != kind.String() || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
