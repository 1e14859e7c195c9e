package requestid

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderName = "X-Request-ID"

type ctxKey struct{}

// Middleware は X-Request-ID を引き継ぐ（無ければ uuid を採番）。
// 値はレスポンスヘッダと request context の両方に載せる。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderName)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(HeaderName, id)
		c.Request = c.Request.WithContext(WithID(c.Request.Context(), id))
		c.Next()
	}
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id, or "-" when none was attached.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}
