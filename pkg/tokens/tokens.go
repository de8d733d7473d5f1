package tokens

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenName  = "accessToken"
	RefreshTokenName = "refreshToken"
)

var (
	errTokenMalformed     = errors.New("token malformed")
	errTokenBadSignature  = errors.New("token bad signature")
	errTokenInvalidIssuer = errors.New("token invalid issuer")
	errTokenExpired       = errors.New("token expired")
	errTokenWrongUse      = errors.New("token used for wrong purpose")
)

func ErrTokenMalformed() error     { return errTokenMalformed }
func ErrTokenBadSignature() error  { return errTokenBadSignature }
func ErrTokenInvalidIssuer() error { return errTokenInvalidIssuer }
func ErrTokenExpired() error       { return errTokenExpired }
func ErrTokenWrongUse() error      { return errTokenWrongUse }

// Pair is the access/refresh token pair returned by login, register and
// refresh calls.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Expiration returns the "exp" claim of a three-part token without verifying
// its signature. ok is false when the token is not a JWT, its claims cannot
// be decoded, or it carries no usable exp.
func Expiration(raw string) (exp time.Time, ok bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false
	}

	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// Usable reports whether raw looks like a live access token at now.
//
// Empty values and the literal strings "undefined" and "null" are rejected.
// A JWT is rejected only when it carries an exp at or before now.
func Usable(raw string, now time.Time) bool {
	switch strings.TrimSpace(raw) {
	case "", "undefined", "null":
		return false
	}

	exp, ok := Expiration(raw)
	if !ok {
		return true
	}
	return exp.After(now)
}
