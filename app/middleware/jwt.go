package middleware

import (
	"net/http"
	"strings"

	"download-tracker/app/auth"
	"download-tracker/app/config"

	"github.com/gin-gonic/gin"
)

// JWTAuth JWT认证中间件，未配置密钥时直接放行
func JWTAuth(cfg *config.Config) gin.HandlerFunc {
	jwtService := auth.NewJWTService(cfg.JWT)

	return func(c *gin.Context) {
		if !jwtService.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header is required",
			})
			c.Abort()
			return
		}

		// 检查Bearer前缀
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header format must be Bearer {token}",
			})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Invalid token: " + err.Error(),
			})
			c.Abort()
			return
		}

		// 将调用方信息存储到上下文中
		c.Set("subject", claims.Subject)
		c.Set("scope", claims.Scope)
		c.Next()
	}
}
