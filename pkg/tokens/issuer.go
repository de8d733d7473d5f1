package tokens

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Use string

const (
	UseAccess  Use = "access"
	UseRefresh Use = "refresh"
)

// Claims are the JWT claims carried by tokens minted by Issuer.
type Claims struct {
	Use Use `json:"use"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies ES256 tokens for one issuer domain.
type Issuer struct {
	signingKey   *ecdsa.PrivateKey
	issuerDomain string
	now          func() time.Time
}

func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %v", err)
	}
	return key, nil
}

func NewIssuer(signingKey *ecdsa.PrivateKey, issuerDomain string) *Issuer {
	return &Issuer{
		signingKey:   signingKey,
		issuerDomain: issuerDomain,
		now:          time.Now,
	}
}

func (i *Issuer) VerificationKey() *ecdsa.PublicKey {
	return &i.signingKey.PublicKey
}

func (i *Issuer) IssueAccessToken(subject string, lifetime time.Duration) (string, error) {
	return i.issue(subject, UseAccess, lifetime)
}

// IssueRefreshToken mints a refresh token. Every refresh token carries a
// unique ID so that two tokens minted in the same second never collide.
func (i *Issuer) IssueRefreshToken(subject string, lifetime time.Duration) (string, error) {
	return i.issue(subject, UseRefresh, lifetime)
}

// IssuePair mints an access and a refresh token for subject.
func (i *Issuer) IssuePair(subject string, accessLifetime, refreshLifetime time.Duration) (Pair, error) {
	access, err := i.IssueAccessToken(subject, accessLifetime)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.IssueRefreshToken(subject, refreshLifetime)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *Issuer) issue(subject string, use Use, lifetime time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Use: use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuerDomain,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	encoded, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %v", use, err)
	}
	return encoded, nil
}

// Verify checks the signature, issuer, expiry and intended use of raw.
func (i *Issuer) Verify(raw string, use Use) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(i.issuerDomain),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.VerificationKey(), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired()
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrTokenInvalidIssuer()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenBadSignature()
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed(), err)
	}

	if claims.Use != use {
		return nil, ErrTokenWrongUse()
	}
	return claims, nil
}
