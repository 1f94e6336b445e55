package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	RoleFarmer = "farmer"
	RoleBuyer  = "buyer"

	contextKeyClaims = "claims"
)

// Claims 是外部身分服務簽發的 access token 內容，Subject 為使用者 ID
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID 解析 Subject 中的使用者 ID
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// ParseAndValidateJWT 以 Ed25519 公鑰驗證 token 並取出 Claims
func ParseAndValidateJWT(tokenString string, publicKey ed25519.PublicKey) (*Claims, error) {
	const op = "ParseAndValidateJWT"
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("[%s] token is invalid", op)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("[%s] token claims are invalid", op)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("[%s] subject is not a user id, err=%w", op, err)
	}
	return claims, nil
}

// ParsePublicKey 讀取 PEM 格式的 Ed25519 公鑰
func ParsePublicKey(pem string) (ed25519.PublicKey, error) {
	const op = "ParsePublicKey"
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public key, err=%w", op, err)
	}
	publicKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ed25519")
	}
	return publicKey, nil
}

// Authenticate 驗證 Authorization: Bearer <token>，失敗時回應 401
func (s *Server) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing access token"})
			return
		}
		claims, err := ParseAndValidateJWT(tokenString, s.config.Auth.PublicKey)
		if err != nil {
			s.logger.Debug("Fail to parse and validate JWT", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid access token"})
			return
		}
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// RequireRole 只允許指定角色的使用者，必須放在 Authenticate 之後
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || !lo.Contains(roles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "not allowed for this role"})
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *Claims {
	value, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}

// currentUserID 回傳已驗證使用者的 ID，Authenticate 已確認 Subject 可以解析
func currentUserID(c *gin.Context) uuid.UUID {
	claims := claimsFrom(c)
	if claims == nil {
		return uuid.Nil
	}
	id, _ := claims.UserID()
	return id
}
