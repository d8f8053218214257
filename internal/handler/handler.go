package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/user/moviereviews/internal/config"
	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/middleware"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/repository"
	"github.com/user/moviereviews/internal/service"
	"github.com/user/moviereviews/internal/utils"
)

// Handler HTTP 处理器
type Handler struct {
	Repos       *repository.Repositories
	Config      *config.Config
	Embedder    utils.Embedder
	Recommender *service.RecommendationService
	Stats       *service.StatisticsService
}

// NewHandler 创建处理器，embedder 可以为 nil（推荐功能不可用）
func NewHandler(repos *repository.Repositories, cfg *config.Config, embedder utils.Embedder) *Handler {
	stats := service.NewStatisticsService(repos.Movie)
	if cfg.Web.ChartFont != "" {
		font, err := service.LoadChartFont(cfg.Web.ChartFont)
		if err != nil {
			logging.Warn().Err(err).Msg("[Statistics] 统计图字体加载失败，使用内置字体")
		} else {
			stats.SetFont(font)
		}
	}
	return &Handler{
		Repos:       repos,
		Config:      cfg,
		Embedder:    embedder,
		Recommender: service.NewRecommendationService(repos.Movie, embedder),
		Stats:       stats,
	}
}

// RenderData 统一封装公共渲染数据
func (h *Handler) RenderData(c *gin.Context, data gin.H) gin.H {
	res := gin.H{
		"SiteName": h.Config.SiteName,
		"SiteUrl":  h.Config.SiteUrl,
		"MediaURL": h.Config.Media.URL,
		"Path":     c.Request.URL.Path,
	}

	session := sessions.Default(c)
	if userinfo := session.Get("userinfo"); userinfo != nil {
		if su, ok := userinfo.(model.SessionUser); ok {
			res["UserInfo"] = su
		}
	}
	if flashes := session.Flashes(); len(flashes) > 0 {
		res["Flashes"] = flashes
		session.Save()
	}

	res["ActiveMenu"] = activeMenu(c.Request.URL.Path)

	for k, v := range data {
		res[k] = v
	}
	return res
}

func activeMenu(path string) string {
	switch {
	case path == "/":
		return "home"
	case strings.HasPrefix(path, "/statistics"):
		return "statistics"
	case strings.HasPrefix(path, "/recommend"):
		return "recommend"
	case strings.HasPrefix(path, "/about"):
		return "about"
	case strings.HasPrefix(path, "/news"):
		return "news"
	case strings.HasPrefix(path, "/signup"), strings.HasPrefix(path, "/auth"):
		return "account"
	case strings.HasPrefix(path, "/admin"):
		return "admin"
	default:
		return ""
	}
}

// renderError 错误页
func (h *Handler) renderError(c *gin.Context, status int, message string) {
	page := "error.html"
	if status == http.StatusNotFound {
		page = "404.html"
	}
	c.HTML(status, page, h.RenderData(c, gin.H{
		"Title":   h.Config.SiteName,
		"Status":  status,
		"Message": message,
	}))
}

// NotFound 404 页面
func (h *Handler) NotFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		utils.NotFound(c, "")
		return
	}
	h.renderError(c, http.StatusNotFound, "页面不存在")
}

// ==================== 公开页面 ====================

// Home 首页，?searchMovie= 按标题搜索
func (h *Handler) Home(c *gin.Context) {
	term := strings.TrimSpace(c.Query("searchMovie"))

	movies, err := h.Repos.Movie.Search(c.Request.Context(), term)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("term", term).Msg("[Home] 查询电影失败")
		h.renderError(c, http.StatusInternalServerError, "查询电影失败")
		return
	}

	c.HTML(http.StatusOK, "home.html", h.RenderData(c, gin.H{
		"Title":      h.Config.SiteName,
		"SearchTerm": term,
		"Movies":     movies,
	}))
}

// About 关于页
func (h *Handler) About(c *gin.Context) {
	c.HTML(http.StatusOK, "about.html", h.RenderData(c, gin.H{
		"Title": "关于 - " + h.Config.SiteName,
	}))
}

// Statistics 统计图页面
func (h *Handler) Statistics(c *gin.Context) {
	charts, counts, err := h.Stats.Charts(c.Request.Context())
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Statistics] 生成统计失败")
		h.renderError(c, http.StatusInternalServerError, "生成统计图失败")
		return
	}

	data := gin.H{
		"Title":  "统计 - " + h.Config.SiteName,
		"Counts": counts,
		"Empty":  charts == nil,
	}
	if charts != nil {
		data["YearGraphic"] = charts.Year
		data["GenreGraphic"] = charts.Genre
	}
	c.HTML(http.StatusOK, "statistics.html", h.RenderData(c, data))
}

// ==================== 推荐 ====================

// RecommendPage 推荐表单
func (h *Handler) RecommendPage(c *gin.Context) {
	c.HTML(http.StatusOK, "recommend.html", h.RenderData(c, gin.H{
		"Title": "推荐 - " + h.Config.SiteName,
	}))
}

// Recommend 根据描述推荐一部电影
func (h *Handler) Recommend(c *gin.Context) {
	prompt := c.PostForm("prompt")
	data := gin.H{
		"Title":  "推荐 - " + h.Config.SiteName,
		"Prompt": prompt,
	}

	rec, err := h.Recommender.Recommend(c.Request.Context(), prompt)
	status, msg := recommendErrorStatus(err)
	switch {
	case err == nil:
		data["Recommendation"] = rec.Movie
		data["Similarity"] = rec.Score()
		data["Skipped"] = rec.Skipped
	case errors.Is(err, service.ErrNoCandidates):
		data["NoRecommendation"] = true
	default:
		if status >= http.StatusInternalServerError {
			logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Recommend] 推荐失败")
		}
		data["Error"] = msg
	}
	c.HTML(status, "recommend.html", h.RenderData(c, data))
}

// recommendErrorStatus 推荐错误对应的状态码和提示
func recommendErrorStatus(err error) (int, string) {
	switch {
	case err == nil, errors.Is(err, service.ErrNoCandidates):
		return http.StatusOK, ""
	case errors.Is(err, service.ErrEmptyPrompt):
		return http.StatusBadRequest, "请输入想看的电影描述"
	case errors.Is(err, service.ErrZeroVector):
		return http.StatusBadRequest, "无法根据该描述生成推荐，请换一种说法"
	case errors.Is(err, service.ErrEmbeddingUnavailable):
		return http.StatusBadGateway, "向量服务暂时不可用，请稍后再试"
	default:
		return http.StatusInternalServerError, "推荐失败，请稍后再试"
	}
}

// ==================== 账号 ====================

type signupForm struct {
	Email           string `form:"email" binding:"required,email"`
	Username        string `form:"username" binding:"omitempty,min=3,max=150"`
	Password        string `form:"password" binding:"required,min=6"`
	ConfirmPassword string `form:"confirm_password" binding:"required,eqfield=Password"`
}

// SignupPage 注册页，?email= 预填邮箱
func (h *Handler) SignupPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signup.html", h.RenderData(c, gin.H{
		"Title": "注册 - " + h.Config.SiteName,
		"Email": c.Query("email"),
	}))
}

// Signup 提交注册
func (h *Handler) Signup(c *gin.Context) {
	var form signupForm
	render := func(status int, msg string) {
		c.HTML(status, "signup.html", h.RenderData(c, gin.H{
			"Title":    "注册 - " + h.Config.SiteName,
			"Email":    form.Email,
			"Username": form.Username,
			"Error":    msg,
		}))
	}

	if err := c.ShouldBind(&form); err != nil {
		render(http.StatusBadRequest, validationMessage(err))
		return
	}
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	if form.Username == "" {
		form.Username = strings.SplitN(form.Email, "@", 2)[0]
	}

	user, err := h.Repos.User.Create(c.Request.Context(), form.Email, form.Username, form.Password, model.RoleUser)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			render(http.StatusBadRequest, "该邮箱或用户名已被注册")
			return
		}
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Signup] 创建用户失败")
		render(http.StatusInternalServerError, "注册失败，请重试")
		return
	}

	if err := h.login(c, user); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Signup] 生成 Token 失败")
	}
	c.Redirect(http.StatusFound, "/")
}

// LoginPage 登录页
func (h *Handler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", h.RenderData(c, gin.H{
		"Title":    "登录 - " + h.Config.SiteName,
		"Redirect": safeRedirect(c.Query("redirect")),
	}))
}

// Login 邮箱或用户名登录
func (h *Handler) Login(c *gin.Context) {
	login := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	redirect := safeRedirect(c.PostForm("redirect"))

	fail := func(status int, msg string) {
		c.HTML(status, "login.html", h.RenderData(c, gin.H{
			"Title":    "登录 - " + h.Config.SiteName,
			"Error":    msg,
			"Email":    login,
			"Redirect": redirect,
		}))
	}

	user, err := h.Repos.User.FindByLogin(c.Request.Context(), login)
	if err != nil || user == nil || !h.Repos.User.CheckPassword(user, password) {
		fail(http.StatusUnauthorized, "邮箱或密码错误")
		return
	}
	if err := h.login(c, user); err != nil {
		fail(http.StatusInternalServerError, "登录失败，请重试")
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// Logout 退出登录
func (h *Handler) Logout(c *gin.Context) {
	middleware.ClearTokenCookie(c)
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.Redirect(http.StatusFound, "/")
}

// login 写入 JWT Cookie 和 Session 用户信息
func (h *Handler) login(c *gin.Context, user *model.User) error {
	token, err := middleware.GenerateToken(user, h.Config.AppSecret, h.Config.JWTExpiry)
	if err != nil {
		return err
	}
	middleware.SetTokenCookie(c, token, h.Config.JWTExpiry)

	session := sessions.Default(c)
	session.Set("userinfo", user.Session())
	return session.Save()
}

// safeRedirect 只允许站内跳转
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
