package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/feedfanout/pkg/response"
)

// ContextUserID gin.Context 中当前用户 id 的 key
const ContextUserID = "user_id"

var errMissingToken = errors.New("missing bearer token")

// IssueToken 签发 HS256 token，sub 为用户 id
func IssueToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth 校验 Authorization: Bearer <token>，把 sub 写入 context
func Auth(secret, issuer string) gin.HandlerFunc {
	return auth(secret, issuer, false)
}

// OptionalAuth 没有 Authorization 头时按匿名放行，带了就必须有效
func OptionalAuth(secret, issuer string) gin.HandlerFunc {
	return auth(secret, issuer, true)
}

func auth(secret, issuer string, optional bool) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if optional && header == "" {
			c.Next()
			return
		}
		raw, err := bearer(header)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return key, nil }); err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if claims.Subject == "" {
			response.Unauthorized(c, "token has no subject")
			return
		}
		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// UserID 取当前用户，未经过 Auth 时为空
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func bearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}
