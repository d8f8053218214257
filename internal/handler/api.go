package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/service"
	"github.com/user/moviereviews/internal/utils"
)

// movieJSON 接口返回的电影
type movieJSON struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Year         *int   `json:"year"`
	Genre        string `json:"genre"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	HasEmbedding bool   `json:"has_embedding"`
}

func (h *Handler) toJSON(m *model.Movie) movieJSON {
	return movieJSON{
		ID:           m.ID,
		Title:        m.Title,
		Year:         m.Year,
		Genre:        m.Genre,
		Description:  m.Description,
		ImageURL:     m.ImageURL(h.Config.Media.URL),
		HasEmbedding: m.HasEmbedding(),
	}
}

// APIMovies GET /api/movies?q=
func (h *Handler) APIMovies(c *gin.Context) {
	movies, err := h.Repos.Movie.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[API] 查询电影失败")
		utils.InternalServerError(c, "")
		return
	}
	res := make([]movieJSON, 0, len(movies))
	for _, m := range movies {
		res = append(res, h.toJSON(m))
	}
	utils.Success(c, res)
}

// APIMovie GET /api/movies/:id
func (h *Handler) APIMovie(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}
	movie, err := h.Repos.Movie.FindByID(c.Request.Context(), id)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("movie_id", id).Msg("[API] 查询电影失败")
		utils.InternalServerError(c, "")
		return
	}
	if movie == nil {
		utils.NotFound(c, "电影不存在")
		return
	}
	utils.Success(c, h.toJSON(movie))
}

type recommendRequest struct {
	Prompt string `json:"prompt" form:"prompt"`
}

type recommendResponse struct {
	Movie      movieJSON `json:"movie"`
	Similarity float64   `json:"similarity"`
	Score      string    `json:"score"`
	Skipped    int       `json:"skipped"`
}

// APIRecommend POST /api/recommend {"prompt": "..."}
func (h *Handler) APIRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.BadRequest(c, "请求格式错误")
		return
	}

	rec, err := h.Recommender.Recommend(c.Request.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, service.ErrNoCandidates) {
			utils.NotFound(c, "暂无可推荐的电影")
			return
		}
		status, msg := recommendErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[API] 推荐失败")
		}
		utils.Error(c, status, msg)
		return
	}

	utils.Success(c, recommendResponse{
		Movie:      h.toJSON(rec.Movie),
		Similarity: rec.Similarity,
		Score:      rec.Score(),
		Skipped:    rec.Skipped,
	})
}

// APIStatistics GET /api/statistics
func (h *Handler) APIStatistics(c *gin.Context) {
	counts, err := h.Stats.Counts(c.Request.Context())
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[API] 统计失败")
		utils.InternalServerError(c, "")
		return
	}
	utils.Success(c, counts)
}

// Health 健康检查，包含数据库连通性
func (h *Handler) Health(c *gin.Context) {
	status := gin.H{"status": "ok", "database": "ok"}
	sqlDB, err := h.Repos.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status["status"] = "degraded"
		status["database"] = strings.TrimSpace(err.Error())
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	if h.Embedder == nil {
		status["embedding"] = "disabled"
	} else {
		status["embedding"] = "configured"
	}
	c.JSON(http.StatusOK, status)
}
