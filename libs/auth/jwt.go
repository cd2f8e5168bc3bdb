package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity handed to the booking service by the identity provider.
// Older tokens carry the user id as "userId"; newer ones use the registered "sub" claim.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SubjectID returns the authenticated user id.
func (c *Claims) SubjectID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Verifier validates bearer tokens signed either with a shared HS256 secret or with RS256
// keys published at a JWKS endpoint.
type Verifier struct {
	secret []byte
	jwks   *JWKSClient
	issuer string
	leeway time.Duration
}

type VerifierConfig struct {
	Secret string
	JWKS   *JWKSClient
	Issuer string
	Leeway time.Duration
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Secret == "" && cfg.JWKS == nil {
		return nil, errors.New("auth: either a secret or a JWKS client is required")
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		jwks:   cfg.JWKS,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
	}, nil
}

func (v *Verifier) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SubjectID() == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) methods() []string {
	var methods []string
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return methods
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.jwks == nil {
			return nil, jwt.ErrSignatureInvalid
		}
		kid, _ := token.Header["kid"].(string)
		return v.jwks.Get(kid)
	default:
		return nil, jwt.ErrSignatureInvalid
	}
}

// SignHS256 issues a token for local tooling and tests.
func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
