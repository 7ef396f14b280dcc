package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"NebulaChat/tools/errs"
)

// CtxUserIDKey 鉴权通过后写入 gin context 的用户ID key。
const CtxUserIDKey = "userID"

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (int64, error)
}

// Auth 校验 Authorization: Bearer <token>（兼容 token query 参数），
// 通过后把已验证的 userID 放进请求上下文。
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired)
			return
		}

		uid, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired)
			return
		}

		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

// UserID 读取中间件写入的已验证身份。
func UserID(c *gin.Context) int64 {
	v, _ := c.Get(CtxUserIDKey)
	uid, _ := v.(int64)
	return uid
}
