package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/service"
	"github.com/user/moviereviews/internal/utils"
)

// maxUploadSize 海报上传大小上限
const maxUploadSize = 5 << 20

// ==================== 管理后台 ====================

type movieForm struct {
	Title       string `form:"title" binding:"required,max=255"`
	Year        string `form:"year" binding:"omitempty,numeric,len=4"`
	Genre       string `form:"genre" binding:"max=255"`
	Description string `form:"description" binding:"max=5000"`
	Image       string `form:"image" binding:"max=255"`
}

func (f *movieForm) apply(m *model.Movie) {
	m.Title = strings.TrimSpace(f.Title)
	m.Genre = strings.TrimSpace(f.Genre)
	m.Description = strings.TrimSpace(f.Description)
	m.Image = strings.TrimSpace(f.Image)
	m.Year = nil
	if y, err := strconv.Atoi(strings.TrimSpace(f.Year)); err == nil && y != 0 {
		m.Year = &y
	}
}

func formFromMovie(m *model.Movie) movieForm {
	f := movieForm{Title: m.Title, Genre: m.Genre, Description: m.Description, Image: m.Image}
	if m.Year != nil {
		f.Year = strconv.Itoa(*m.Year)
	}
	return f
}

func (h *Handler) flash(c *gin.Context, msg string) {
	session := sessions.Default(c)
	session.AddFlash(msg)
	session.Save()
}

// movieFromParam 读取 :id 对应的电影，不存在时已写入 404
func (h *Handler) movieFromParam(c *gin.Context) (*model.Movie, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		h.renderError(c, http.StatusNotFound, "电影不存在")
		return nil, false
	}
	movie, err := h.Repos.Movie.FindByID(c.Request.Context(), id)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", id).Msg("[Admin] 查询电影失败")
		h.renderError(c, http.StatusInternalServerError, "查询电影失败")
		return nil, false
	}
	if movie == nil {
		h.renderError(c, http.StatusNotFound, "电影不存在")
		return nil, false
	}
	return movie, true
}

// AdminMovies 电影列表
func (h *Handler) AdminMovies(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	movies, err := h.Repos.Movie.Search(c.Request.Context(), q)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Admin] 查询电影失败")
		h.renderError(c, http.StatusInternalServerError, "查询电影失败")
		return
	}
	total, _ := h.Repos.Movie.Count(c.Request.Context())

	c.HTML(http.StatusOK, "admin_movies.html", h.RenderData(c, gin.H{
		"Title":  "电影管理 - " + h.Config.SiteName,
		"Movies": movies,
		"Query":  q,
		"Total":  total,
	}))
}

func (h *Handler) renderMovieForm(c *gin.Context, status int, movie *model.Movie, form movieForm, errMsg string) {
	action := "/admin/movies"
	if movie != nil {
		action = "/admin/movies/" + strconv.Itoa(movie.ID)
	}
	c.HTML(status, "admin_movie_form.html", h.RenderData(c, gin.H{
		"Title":  "编辑电影 - " + h.Config.SiteName,
		"Movie":  movie,
		"Form":   form,
		"Action": action,
		"Error":  errMsg,
	}))
}

// AdminMovieNew 新建电影表单
func (h *Handler) AdminMovieNew(c *gin.Context) {
	h.renderMovieForm(c, http.StatusOK, nil, movieForm{}, "")
}

// AdminMovieCreate 创建电影
func (h *Handler) AdminMovieCreate(c *gin.Context) {
	var form movieForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderMovieForm(c, http.StatusBadRequest, nil, form, validationMessage(err))
		return
	}

	movie := &model.Movie{}
	form.apply(movie)
	if err := h.Repos.Movie.Create(c.Request.Context(), movie); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Admin] 创建电影失败")
		h.renderMovieForm(c, http.StatusInternalServerError, nil, form, "保存失败，请重试")
		return
	}
	utils.InvalidateStatistics()
	logging.Ctx(c.Request.Context()).Info().Int("movie_id", movie.ID).Str("title", movie.Title).Msg("[Admin] 创建电影")

	h.flash(c, "已创建: "+movie.Title)
	c.Redirect(http.StatusFound, "/admin/movies")
}

// AdminMovieEdit 编辑表单
func (h *Handler) AdminMovieEdit(c *gin.Context) {
	movie, ok := h.movieFromParam(c)
	if !ok {
		return
	}
	h.renderMovieForm(c, http.StatusOK, movie, formFromMovie(movie), "")
}

// AdminMovieUpdate 保存编辑
func (h *Handler) AdminMovieUpdate(c *gin.Context) {
	movie, ok := h.movieFromParam(c)
	if !ok {
		return
	}
	var form movieForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderMovieForm(c, http.StatusBadRequest, movie, form, validationMessage(err))
		return
	}

	form.apply(movie)
	if err := h.Repos.Movie.Update(c.Request.Context(), movie); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", movie.ID).Msg("[Admin] 更新电影失败")
		h.renderMovieForm(c, http.StatusInternalServerError, movie, form, "保存失败，请重试")
		return
	}
	utils.InvalidateStatistics()

	h.flash(c, "已保存: "+movie.Title)
	c.Redirect(http.StatusFound, "/admin/movies")
}

// AdminMovieDelete 删除电影
func (h *Handler) AdminMovieDelete(c *gin.Context) {
	movie, ok := h.movieFromParam(c)
	if !ok {
		return
	}
	if err := h.Repos.Movie.Delete(c.Request.Context(), movie.ID); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", movie.ID).Msg("[Admin] 删除电影失败")
		h.renderError(c, http.StatusInternalServerError, "删除失败")
		return
	}
	utils.InvalidateStatistics()
	logging.Ctx(c.Request.Context()).Info().Int("movie_id", movie.ID).Str("title", movie.Title).Msg("[Admin] 删除电影")

	h.flash(c, "已删除: "+movie.Title)
	c.Redirect(http.StatusFound, "/admin/movies")
}

// AdminMovieImage 上传海报到 MEDIA_ROOT/movie/images
func (h *Handler) AdminMovieImage(c *gin.Context) {
	movie, ok := h.movieFromParam(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	file, err := c.FormFile("image")
	if err != nil {
		h.renderMovieForm(c, http.StatusBadRequest, movie, formFromMovie(movie), "请选择图片文件（不超过 5MB）")
		return
	}
	_, ext := utils.SplitExt(file.Filename)
	if !service.IsImageFile(file.Filename) {
		h.renderMovieForm(c, http.StatusBadRequest, movie, formFromMovie(movie), "只支持 png、jpg、jpeg、gif、webp 图片")
		return
	}

	dir := filepath.Join(h.Config.Media.Root, "movie", "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("dir", dir).Msg("[Admin] 创建目录失败")
		h.renderError(c, http.StatusInternalServerError, "保存图片失败")
		return
	}
	name := "m_" + uuid.NewString() + strings.ToLower(ext)
	if err := c.SaveUploadedFile(file, filepath.Join(dir, name)); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Admin] 保存图片失败")
		h.renderError(c, http.StatusInternalServerError, "保存图片失败")
		return
	}

	image := path.Join("movie", "images", name)
	if err := h.Repos.Movie.UpdateImage(c.Request.Context(), movie.ID, image); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", movie.ID).Msg("[Admin] 更新海报失败")
		h.renderError(c, http.StatusInternalServerError, "保存图片失败")
		return
	}

	h.flash(c, "已更新海报: "+movie.Title)
	c.Redirect(http.StatusFound, "/admin/movies/"+strconv.Itoa(movie.ID)+"/edit")
}

// AdminMovieEmbed 重新生成该电影的向量
func (h *Handler) AdminMovieEmbed(c *gin.Context) {
	movie, ok := h.movieFromParam(c)
	if !ok {
		return
	}
	if h.Embedder == nil {
		h.renderError(c, http.StatusBadGateway, "向量服务未配置")
		return
	}
	vec, err := h.Embedder.Embed(c.Request.Context(), movie.EmbeddingText())
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", movie.ID).Msg("[Admin] 生成向量失败")
		h.renderError(c, http.StatusBadGateway, "向量服务暂时不可用，请稍后再试")
		return
	}
	if err := h.Repos.Movie.UpdateEmbedding(c.Request.Context(), movie.ID, utils.EncodeEmbedding(vec)); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", movie.ID).Msg("[Admin] 保存向量失败")
		h.renderError(c, http.StatusInternalServerError, "保存向量失败")
		return
	}

	h.flash(c, "已生成向量: "+movie.Title+" ("+strconv.Itoa(len(vec))+" 维)")
	c.Redirect(http.StatusFound, "/admin/movies")
}
