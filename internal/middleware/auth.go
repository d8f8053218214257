package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/user/moviereviews/internal/model"
)

// TokenCookie 保存 JWT 的 Cookie 名
const TokenCookie = "token"

// Claims JWT 声明
type Claims struct {
	UserID   int    `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// UserLookup 续期时读取用户当前角色
type UserLookup interface {
	FindByID(ctx context.Context, id int) (*model.User, error)
}

// RequireAuth 必须登录中间件，users 可以为 nil
func RequireAuth(jwtSecret string, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractClaims(c, jwtSecret)
		if err != nil {
			if wantsHTML(c) {
				c.Redirect(http.StatusFound, "/auth/login?redirect="+url.QueryEscape(c.Request.URL.RequestURI()))
				c.Abort()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "未登录"})
			c.Abort()
			return
		}
		setClaims(c, claims)
		refreshIfNeeded(c, claims, jwtSecret, users)
		c.Next()
	}
}

// OptionalAuth 可选登录中间件（不强制要求登录）
func OptionalAuth(jwtSecret string, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := extractClaims(c, jwtSecret); err == nil {
			setClaims(c, claims)
			refreshIfNeeded(c, claims, jwtSecret, users)
		}
		c.Next()
	}
}

// RequireAdmin 管理员权限中间件，需放在 RequireAuth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != model.RoleAdmin {
			if wantsHTML(c) {
				c.String(http.StatusForbidden, "需要管理员权限")
			} else {
				c.JSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			}
			c.Abort()
			return
		}
		c.Next()
	}
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func setClaims(c *gin.Context, claims *Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
	c.Set("username", claims.Username)
	c.Set("role", claims.Role)
}

// refreshIfNeeded 滑动续期：有效期消耗过半时签发新 Token
// 管理员 Token 续期前重新读取角色，用户被降级或删除后不再保留管理员权限
func refreshIfNeeded(c *gin.Context, claims *Claims, jwtSecret string, users UserLookup) {
	if !shouldRefresh(claims) {
		return
	}
	expiry := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	user := &model.User{ID: claims.UserID, Email: claims.Email, Username: claims.Username, Role: claims.Role}
	if claims.Role == model.RoleAdmin && users != nil {
		current, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.Set("role", "")
			return
		}
		if current == nil {
			c.Set("user_id", 0)
			c.Set("role", "")
			ClearTokenCookie(c)
			return
		}
		user = current
		setClaims(c, &Claims{UserID: current.ID, Email: current.Email, Username: current.Username, Role: current.Role})
	}
	if token, err := GenerateToken(user, jwtSecret, expiry); err == nil {
		SetTokenCookie(c, token, expiry)
	}
}

// extractClaims 从 Cookie 或 Header 中提取 JWT Claims
func extractClaims(c *gin.Context, jwtSecret string) (*Claims, error) {
	var tokenString string
	if cookie, err := c.Cookie(TokenCookie); err == nil {
		tokenString = cookie
	} else if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenString == "" {
		return nil, jwt.ErrTokenMalformed
	}
	return ParseToken(tokenString, jwtSecret)
}

// ParseToken 校验并解析 Token
func ParseToken(tokenString, jwtSecret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GetUserID 从上下文获取用户 ID（未登录返回 0）
func GetUserID(c *gin.Context) int {
	if userID, exists := c.Get("user_id"); exists {
		return userID.(int)
	}
	return 0
}

// IsAdmin 当前请求是否为管理员
func IsAdmin(c *gin.Context) bool {
	return c.GetString("role") == model.RoleAdmin
}

// GenerateToken 生成 JWT Token
func GenerateToken(user *model.User, jwtSecret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// SetTokenCookie 写入登录 Cookie
func SetTokenCookie(c *gin.Context, token string, expiry time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookie, token, int(expiry.Seconds()), "/", "", c.Request.TLS != nil, true)
}

// ClearTokenCookie 删除登录 Cookie
func ClearTokenCookie(c *gin.Context) {
	c.SetCookie(TokenCookie, "", -1, "/", "", c.Request.TLS != nil, true)
}

// shouldRefresh 已消耗总有效期的一半以上
func shouldRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return false
	}
	total := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	return time.Since(claims.IssuedAt.Time) > total/2
}
