package router

import (
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/moviereviews/internal/handler"
	"github.com/user/moviereviews/internal/middleware"
)

// Pages 需要加载的页面模板
var Pages = []string{
	"home", "about", "statistics", "signup", "recommend",
	"login", "404", "error",
	"admin_movies", "admin_movie_form", "news", "admin_news",
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler, limiter *middleware.RateLimiter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== 公开页面 ====================
	pages := r.Group("/")
	pages.Use(middleware.OptionalAuth(h.Config.AppSecret, h.Repos.User))
	{
		pages.GET("/", h.Home)
		pages.GET("/about/", h.About)
		pages.GET("/news/", h.News)
		pages.GET("/statistics/", h.Statistics)
		pages.GET("/signup/", h.SignupPage)
		pages.POST("/signup/", limiter.Middleware(), h.Signup)
		pages.GET("/recommend/", h.RecommendPage)
		pages.POST("/recommend/", limiter.Middleware(), h.Recommend)
	}

	// ==================== 认证 ====================
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.LoginPage)
		auth.POST("/login", limiter.Middleware(), h.Login)
		auth.POST("/logout", h.Logout)
	}

	// ==================== JSON API ====================
	api := r.Group("/api")
	api.Use(middleware.OptionalAuth(h.Config.AppSecret, h.Repos.User))
	{
		api.GET("/movies", h.APIMovies)
		api.GET("/movies/:id", h.APIMovie)
		api.POST("/recommend", limiter.Middleware(), h.APIRecommend)
		api.GET("/statistics", h.APIStatistics)
		api.GET("/news", h.APINews)
	}

	// ==================== 管理后台 ====================
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAuth(h.Config.AppSecret, h.Repos.User))
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/", h.AdminMovies)
		admin.GET("/movies", h.AdminMovies)
		admin.GET("/movies/new", h.AdminMovieNew)
		admin.POST("/movies", h.AdminMovieCreate)
		admin.GET("/movies/:id/edit", h.AdminMovieEdit)
		admin.POST("/movies/:id", h.AdminMovieUpdate)
		admin.POST("/movies/:id/delete", h.AdminMovieDelete)
		admin.POST("/movies/:id/image", h.AdminMovieImage)
		admin.POST("/movies/:id/embed", h.AdminMovieEmbed)
		admin.GET("/news", h.AdminNews)
		admin.POST("/news", h.AdminNewsCreate)
		admin.POST("/news/:id/delete", h.AdminNewsDelete)
	}

	r.NoRoute(h.NotFound)
}

// FuncMap 模板函数
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"default": func(defaultValue, value interface{}) interface{} {
			switch v := value.(type) {
			case string:
				if v == "" {
					return defaultValue
				}
			case int:
				if v == 0 {
					return defaultValue
				}
			case nil:
				return defaultValue
			}
			return value
		},
		// 统计图为 base64 PNG
		"pngsrc": func(b64 string) template.URL {
			return template.URL("data:image/png;base64," + b64)
		},
		"join": strings.Join,
	}
}

// LoadTemplates 使用 multitemplate 加载模板：layouts + partials + 单个页面
func LoadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(filepath.Join(templatesDir, "layouts", "*.html"))
	if err != nil {
		panic(err)
	}
	partials, err := filepath.Glob(filepath.Join(templatesDir, "partials", "*.html"))
	if err != nil {
		panic(err)
	}

	assemble := func(view string) []string {
		files := make([]string, 0, len(layouts)+len(partials)+1)
		files = append(files, layouts...)
		files = append(files, partials...)
		return append(files, view)
	}

	funcMap := FuncMap()
	for _, page := range Pages {
		viewPath := filepath.Join(templatesDir, "pages", page+".html")
		r.AddFromFilesFuncs(page+".html", funcMap, assemble(viewPath)...)
	}
	return r
}
