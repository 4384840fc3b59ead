package auth

import (
	"errors"
	"time"

	"download-tracker/app/config"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthDisabled 未配置密钥时不签发也不校验令牌
var ErrAuthDisabled = errors.New("jwt secret not configured")

// Claims API 令牌声明，Subject 标识调用方
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTService JWT服务
type JWTService struct {
	secret []byte
	issuer string
	expire time.Duration
	now    func() time.Time
}

// NewJWTService 创建JWT服务
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expire: time.Duration(cfg.ExpireTime) * time.Hour,
		now:    time.Now,
	}
}

// Enabled 是否启用令牌校验
func (j *JWTService) Enabled() bool {
	return len(j.secret) > 0
}

// GenerateToken 为调用方签发令牌，ttl 为 0 时使用配置的过期时间
func (j *JWTService) GenerateToken(subject, scope string, ttl time.Duration) (string, error) {
	if !j.Enabled() {
		return "", ErrAuthDisabled
	}
	if ttl <= 0 {
		ttl = j.expire
	}

	now := j.now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken 验证JWT令牌
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if !j.Enabled() {
		return nil, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
