package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by relay tokens. UserID is preferred over the
// registered subject when both are present.
type Claims struct {
	UserID any `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// userID resolves the identity the token was issued for.
func (c *Claims) userID() (int64, error) {
	switch v := c.UserID.(type) {
	case nil:
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("user_id %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("user_id has unsupported type %T", v)
	}

	if c.Subject == "" {
		return 0, errors.New("token has no subject")
	}
	return strconv.ParseInt(c.Subject, 10, 64)
}

// KeyConfig selects the signing method and key material.
// HMAC methods use Secret; RSA, RSA-PSS and ECDSA methods use a PEM encoded key.
type KeyConfig struct {
	Algorithm  string
	Secret     []byte
	PublicKey  []byte
	PrivateKey []byte
	Issuer     string
}

type keys struct {
	method jwt.SigningMethod
	verify any
	sign   any
}

func loadKeys(cfg KeyConfig) (*keys, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	k := &keys{method: method}
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("%s requires a secret", alg)
		}
		k.verify, k.sign = cfg.Secret, cfg.Secret

	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%s requires a public key", alg)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
		k.verify = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("parse rsa private key: %w", err)
			}
			k.sign = priv
		}

	case *jwt.SigningMethodECDSA:
		if len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%s requires a public key", alg)
		}
		pub, err := jwt.ParseECPublicKeyFromPEM(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("parse ec public key: %w", err)
		}
		k.verify = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := jwt.ParseECPrivateKeyFromPEM(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("parse ec private key: %w", err)
			}
			k.sign = priv
		}

	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	return k, nil
}

// Issuer mints tokens accepted by an Authenticator built from the same KeyConfig.
type Issuer struct {
	keys   *keys
	issuer string
}

func NewIssuer(cfg KeyConfig) (*Issuer, error) {
	k, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}
	if k.sign == nil {
		return nil, fmt.Errorf("%s signing requires a private key", k.method.Alg())
	}
	return &Issuer{keys: k, issuer: cfg.Issuer}, nil
}

// Sign returns a token for userID valid for ttl.
func (i *Issuer) Sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(i.keys.method, claims)
	signed, err := token.SignedString(i.keys.sign)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ExtractToken extracts the credential from the request (query param or header).
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	// Other schemes carry no token for us.
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return ""
}
