// Package services provides technical integrations: operator tokens and assignment notifications
package services

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/claim-router/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenService issues and validates operator access tokens.
// Login lives outside this service; Issue exists for ops tooling and tests.
type TokenService interface {
	Issue(operator string, scopes []string) (string, error)
	Validate(token string) (*OperatorClaims, error)
}

// OperatorClaims identifies the operator behind an API call
type OperatorClaims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope. A token without scopes grants everything.
func (c *OperatorClaims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	ttl           time.Duration
	signingMethod jwt.SigningMethod
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	secretKey     []byte
	useRSAKeys    bool
	issuer        string
	audience      string
}

// NewTokenService creates a token service signing with RS256 when useRSAKeys is set, HS256 otherwise
func NewTokenService(ttl time.Duration, issuer, audience string, useRSAKeys bool, privateKeyPEM, publicKeyPEM, secretKey string) (TokenService, error) {
	s := &TokenServiceImpl{
		ttl:        ttl,
		useRSAKeys: useRSAKeys,
		issuer:     issuer,
		audience:   audience,
	}

	if useRSAKeys {
		if publicKeyPEM == "" {
			return nil, fmt.Errorf("public key is required when using RSA keys")
		}
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		s.publicKey = publicKey
		// validation-only deployments carry just the public key
		if privateKeyPEM != "" {
			privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			s.privateKey = privateKey
		}
		s.signingMethod = jwt.SigningMethodRS256
	} else {
		if secretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		s.secretKey = []byte(secretKey)
		s.signingMethod = jwt.SigningMethodHS256
	}

	return s, nil
}

// Issue signs a token for operator
func (s *TokenServiceImpl) Issue(operator string, scopes []string) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", fmt.Errorf("operator is required")
	}

	now := utils.UTCNow()
	claims := OperatorClaims{
		Operator: operator,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(s.signingMethod, claims)
	if s.useRSAKeys {
		if s.privateKey == nil {
			return "", fmt.Errorf("private key not configured")
		}
		return token.SignedString(s.privateKey)
	}
	return token.SignedString(s.secretKey)
}

// Validate verifies signature, issuer, audience and expiry
func (s *TokenServiceImpl) Validate(token string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		if s.useRSAKeys {
			return s.publicKey, nil
		}
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Operator == "" {
		claims.Operator = claims.Subject
	}
	if claims.Operator == "" {
		return nil, fmt.Errorf("%w: operator claim missing", ErrTokenInvalid)
	}

	return claims, nil
}
