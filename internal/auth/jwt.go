package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = time.Hour

// Claims embeds the boot-nonce of the run that issued the token so that a
// token from a previous run can never validate (I4): a freshly generated
// boot-nonce on every restart invalidates the entire prior-run token set
// with no persistent revocation store.
type Claims struct {
	DeviceSerial string `json:"device_serial"`
	ThisTime     string `json:"this_time"`
	jwt.RegisteredClaims
}

// IssueJWT signs a token for deviceSerial against the current bootNonce.
func IssueJWT(secret []byte, deviceSerial, bootNonce string) (string, error) {
	claims := Claims{
		DeviceSerial: deviceSerial,
		ThisTime:     bootNonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT succeeds iff the signature is valid, the token is unexpired,
// and the embedded boot-nonce matches the one currently in effect.
func ValidateJWT(secret []byte, tokenString, bootNonce string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ThisTime != bootNonce {
		return nil, fmt.Errorf("token belongs to a previous run")
	}
	return claims, nil
}
