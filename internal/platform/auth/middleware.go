package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"LIB-backend/internal/access"
)

const ctxIdentityKey = "identity"

// RequireAuth: Authorization: Bearer <token> を検証して context に Identity を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing Authorization header")
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid Authorization header")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "empty token")
			return
		}

		// alg 固定（none攻撃とか回避）
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || token == nil || !token.Valid {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid claims")
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid sub")
			return
		}

		// 不明な role は RoleUnknown のまま通し、ゲートで拒否させる
		role := access.RoleUnknown
		if s, ok := claims["role"].(string); ok {
			if r, err := access.ParseRole(s); err == nil {
				role = r
			}
		}

		SetIdentity(c, access.Identity{UserID: sub, Role: role})
		c.Next()
	}
}

// RequireOperation: エンジンを通らないルート（アカウント管理など）用のゲート
func RequireOperation(op access.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing identity")
			return
		}
		if !access.Authorize(id.Role, op) {
			abort(c, http.StatusForbidden, "FORBIDDEN", "role "+id.Role.String()+" may not "+op.String())
			return
		}
		c.Next()
	}
}

func SetIdentity(c *gin.Context, id access.Identity) {
	c.Set(ctxIdentityKey, id)
}

func IdentityFrom(c *gin.Context) (access.Identity, bool) {
	v, ok := c.Get(ctxIdentityKey)
	if !ok {
		return access.Identity{}, false
	}
	id, ok := v.(access.Identity)
	return id, ok
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
