package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// newsPageSize 新闻页显示的条数
const newsPageSize = 50

type newsForm struct {
	Headline string `form:"headline" binding:"required,max=200"`
	Body     string `form:"body" binding:"max=10000"`
	Date     string `form:"date" binding:"omitempty,datetime=2006-01-02"`
}

// toNews 日期为空时使用今天
func (f *newsForm) toNews(now time.Time) *model.News {
	n := &model.News{
		Headline: strings.TrimSpace(f.Headline),
		Body:     strings.TrimSpace(f.Body),
		Date:     now.Truncate(24 * time.Hour),
	}
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(f.Date)); err == nil {
		n.Date = d
	}
	return n
}

// News 新闻列表
func (h *Handler) News(c *gin.Context) {
	items, err := h.Repos.News.List(c.Request.Context(), newsPageSize)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[News] 查询新闻失败")
		h.renderError(c, http.StatusInternalServerError, "查询新闻失败")
		return
	}
	c.HTML(http.StatusOK, "news.html", h.RenderData(c, gin.H{
		"Title": "新闻 - " + h.Config.SiteName,
		"News":  items,
	}))
}

// APINews GET /api/news
func (h *Handler) APINews(c *gin.Context) {
	items, err := h.Repos.News.List(c.Request.Context(), newsPageSize)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[API] 查询新闻失败")
		utils.InternalServerError(c, "")
		return
	}
	utils.Success(c, items)
}

func (h *Handler) renderAdminNews(c *gin.Context, status int, form newsForm, errMsg string) {
	items, err := h.Repos.News.List(c.Request.Context(), 0)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Admin] 查询新闻失败")
		h.renderError(c, http.StatusInternalServerError, "查询新闻失败")
		return
	}
	c.HTML(status, "admin_news.html", h.RenderData(c, gin.H{
		"Title": "新闻管理 - " + h.Config.SiteName,
		"News":  items,
		"Form":  form,
		"Error": errMsg,
	}))
}

// AdminNews 新闻管理
func (h *Handler) AdminNews(c *gin.Context) {
	h.renderAdminNews(c, http.StatusOK, newsForm{}, "")
}

// AdminNewsCreate 发布新闻
func (h *Handler) AdminNewsCreate(c *gin.Context) {
	var form newsForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderAdminNews(c, http.StatusBadRequest, form, validationMessage(err))
		return
	}
	n := form.toNews(time.Now().UTC())
	if err := h.Repos.News.Create(c.Request.Context(), n); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("[Admin] 发布新闻失败")
		h.renderAdminNews(c, http.StatusInternalServerError, form, "保存失败，请重试")
		return
	}
	logging.Ctx(c.Request.Context()).Info().Int("news_id", n.ID).Str("headline", n.Headline).Msg("[Admin] 发布新闻")

	h.flash(c, "已发布: "+n.Headline)
	c.Redirect(http.StatusFound, "/admin/news")
}

// AdminNewsDelete 删除新闻
func (h *Handler) AdminNewsDelete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		h.renderError(c, http.StatusNotFound, "新闻不存在")
		return
	}
	found, err := h.Repos.News.Delete(c.Request.Context(), id)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Int("news_id", id).Msg("[Admin] 删除新闻失败")
		h.renderError(c, http.StatusInternalServerError, "删除失败")
		return
	}
	if !found {
		h.renderError(c, http.StatusNotFound, "新闻不存在")
		return
	}
	h.flash(c, "已删除新闻")
	c.Redirect(http.StatusFound, "/admin/news")
}
