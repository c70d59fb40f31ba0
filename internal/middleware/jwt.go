package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTVerifier 校验 Bearer Token：HS256 使用共享密钥，其它算法使用 JWKS 公钥。
type JWTVerifier struct {
	jwks   *keyfunc.JWKS
	secret []byte
	issuer string
}

// NewJWTVerifier 在 jwksURL 非空时拉取 JWKS 并每小时刷新。
// jwksURL 与 secret 都为空时返回 nil，表示不接受 Bearer Token。
func NewJWTVerifier(jwksURL, secret, issuer string, logger *zap.Logger) (*JWTVerifier, error) {
	if jwksURL == "" && secret == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var jwks *keyfunc.JWKS
	if jwksURL != "" {
		var err error
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks %s: %w", jwksURL, err)
		}
		logger.Info("jwks initialized", zap.String("url", jwksURL))
	}

	return newJWTVerifier(jwks, []byte(secret), issuer), nil
}

func newJWTVerifier(jwks *keyfunc.JWKS, secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{jwks: jwks, secret: secret, issuer: issuer}
}

// Verify 返回 Token 的 sub 声明。
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, v.keyFor, opts...)
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func (v *JWTVerifier) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, fmt.Errorf("no key for signing method %s", token.Method.Alg())
	}
	return v.jwks.Keyfunc(token)
}
