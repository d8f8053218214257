package router

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/moviereviews/internal/config"
	"github.com/user/moviereviews/internal/handler"
	"github.com/user/moviereviews/internal/middleware"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/repository"
	"github.com/user/moviereviews/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	gob.Register(model.SessionUser{})
}

// fixedEmbedder 所有文本返回同一个向量
type fixedEmbedder []float32

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f, nil
}

type testApp struct {
	engine *gin.Engine
	repos  *repository.Repositories
	cfg    *config.Config
}

func newTestApp(t *testing.T, embedder utils.Embedder) *testApp {
	t.Helper()
	utils.InitCache()

	db, err := repository.InitDB("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { _ = repository.Close(db) })
	repos := repository.NewRepositories(db)

	cfg := &config.Config{
		SiteName:  "MovieReviews",
		SiteUrl:   "http://localhost:5005",
		AppSecret: "test-secret",
		JWTExpiry: time.Hour,
		Media:     config.MediaConfig{Root: t.TempDir(), URL: "/media/"},
	}

	r := gin.New()
	r.Use(sessions.Sessions("mysession", cookie.NewStore([]byte(cfg.AppSecret))))
	r.HTMLRender = LoadTemplates("../../web/templates")
	RegisterRoutes(r, handler.NewHandler(repos, cfg, embedder), nil)

	return &testApp{engine: r, repos: repos, cfg: cfg}
}

func (a *testApp) seed(t *testing.T) map[string]*model.Movie {
	t.Helper()
	y := func(v int) *int { return &v }
	movies := []*model.Movie{
		{Title: "The Matrix", Year: y(1999), Genre: "Action, Sci-Fi", Emb: utils.EncodeEmbedding([]float32{1, 0})},
		{Title: "Heat", Year: y(1995), Genre: "Crime", Emb: utils.EncodeEmbedding([]float32{0, 1})},
		{Title: "Up", Genre: "Animation"},
	}
	res := make(map[string]*model.Movie, len(movies))
	for _, m := range movies {
		require.NoError(t, a.repos.Movie.Create(context.Background(), m))
		res[m.Title] = m
	}
	return res
}

func (a *testApp) do(method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Accept", "text/html")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) doJSON(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) tokenCookie(t *testing.T, role string) *http.Cookie {
	t.Helper()
	user, err := a.repos.User.Create(context.Background(), role+"@example.com", role+"-user", "secret123", role)
	require.NoError(t, err)
	token, err := middleware.GenerateToken(user, a.cfg.AppSecret, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: middleware.TokenCookie, Value: token}
}

func parse(t *testing.T, w *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(w.Body)
	require.NoError(t, err)
	return doc
}

func TestHome_ListAndSearch(t *testing.T) {
	app := newTestApp(t, nil)
	app.seed(t)

	w := app.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := parse(t, w)
	assert.Equal(t, 3, doc.Find(".movie-card").Length())
	assert.Equal(t, "MovieReviews", doc.Find("title").Text())

	w = app.do(http.MethodGet, "/?searchMovie=MATR", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc = parse(t, w)
	require.Equal(t, 1, doc.Find(".movie-card").Length())
	assert.Equal(t, "The Matrix", doc.Find(".movie-card .movie-title").Text())
	src, _ := doc.Find(".movie-card img").Attr("src")
	assert.Equal(t, "/media/movie/images/default.png", src)

	w = app.do(http.MethodGet, "/?searchMovie=nothing", nil)
	doc = parse(t, w)
	assert.Zero(t, doc.Find(".movie-card").Length())
	assert.Equal(t, 1, doc.Find("p.empty").Length())
}

func TestStatistics(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.do(http.MethodGet, "/statistics/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := parse(t, w)
	assert.Equal(t, 1, doc.Find(".statistics .empty").Length())
	assert.Zero(t, doc.Find("figure.chart").Length())

	app.seed(t)
	utils.InvalidateStatistics()

	w = app.do(http.MethodGet, "/statistics/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc = parse(t, w)
	imgs := doc.Find("figure.chart img")
	require.Equal(t, 2, imgs.Length())
	imgs.Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		assert.True(t, strings.HasPrefix(src, "data:image/png;base64,"))
	})
	assert.Contains(t, doc.Find(".total").Text(), "3")
}

func TestRecommend(t *testing.T) {
	app := newTestApp(t, fixedEmbedder{0.9, 0.1})
	app.seed(t)

	w := app.do(http.MethodGet, "/recommend/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodPost, "/recommend/", url.Values{"prompt": {"hackers in a simulated world"}})
	require.Equal(t, http.StatusOK, w.Code)
	doc := parse(t, w)
	assert.Equal(t, "The Matrix", doc.Find(".recommendation .movie-title").Text())
	assert.Regexp(t, `^0\.\d{4}$`, doc.Find(".similarity strong").Text())
	assert.Equal(t, "hackers in a simulated world", doc.Find("textarea[name=prompt]").Text())

	w = app.do(http.MethodPost, "/recommend/", url.Values{"prompt": {"   "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, parse(t, w).Find(".recommend .error").Length())
}

func TestRecommend_NoCandidates(t *testing.T) {
	app := newTestApp(t, fixedEmbedder{1, 0})

	w := app.do(http.MethodPost, "/recommend/", url.Values{"prompt": {"anything"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, parse(t, w).Find(".no-recommendation").Length())

	w = app.doJSON(http.MethodPost, "/api/recommend", `{"prompt":"anything"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecommend_EmbeddingUnavailable(t *testing.T) {
	app := newTestApp(t, nil)
	app.seed(t)

	w := app.do(http.MethodPost, "/recommend/", url.Values{"prompt": {"heist"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = app.doJSON(http.MethodPost, "/api/recommend", `{"prompt":"heist"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAPI(t *testing.T) {
	app := newTestApp(t, fixedEmbedder{0.1, 0.9})
	seeded := app.seed(t)

	w := app.doJSON(http.MethodGet, "/api/movies?q=heat", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Success bool `json:"success"`
		Data    []struct {
			Title        string `json:"title"`
			ImageURL     string `json:"image_url"`
			HasEmbedding bool   `json:"has_embedding"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.True(t, list.Success)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Heat", list.Data[0].Title)
	assert.Equal(t, "/media/movie/images/default.png", list.Data[0].ImageURL)

	w = app.doJSON(http.MethodGet, "/api/movies/"+strconv.Itoa(seeded["Up"].ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Up"`)

	assert.Equal(t, http.StatusNotFound, app.doJSON(http.MethodGet, "/api/movies/99999", "").Code)
	assert.Equal(t, http.StatusBadRequest, app.doJSON(http.MethodGet, "/api/movies/abc", "").Code)

	w = app.doJSON(http.MethodPost, "/api/recommend", `{"prompt":"a heist in LA"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var rec struct {
		Data struct {
			Movie struct {
				Title string `json:"title"`
			} `json:"movie"`
			Score string `json:"score"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "Heat", rec.Data.Movie.Title)
	assert.Len(t, rec.Data.Score, 6)

	w = app.doJSON(http.MethodGet, "/api/statistics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":3`)

	w = app.doJSON(http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestSignupAndLogin(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.do(http.MethodGet, "/signup/?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	email, _ := parse(t, w).Find("input[name=email]").Attr("value")
	assert.Equal(t, "ana@example.com", email)

	form := url.Values{
		"email":            {"Ana@Example.com"},
		"password":         {"secret123"},
		"confirm_password": {"secret123"},
	}
	w = app.do(http.MethodPost, "/signup/", form)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	cookies := w.Result().Cookies()

	// 登录后页头显示用户名
	w = app.do(http.MethodGet, "/", nil, cookies...)
	assert.Equal(t, "ana", strings.TrimSpace(parse(t, w).Find(".navbar .username").Text()))

	w = app.do(http.MethodPost, "/signup/", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, parse(t, w).Find(".error").Text(), "已被注册")

	form.Set("email", "bob@example.com")
	form.Set("confirm_password", "different")
	w = app.do(http.MethodPost, "/signup/", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, parse(t, w).Find(".error").Text(), "两次输入的密码不一致")

	w = app.do(http.MethodPost, "/auth/login", url.Values{"email": {"ana"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(http.MethodPost, "/auth/login", url.Values{
		"email":    {"ana@example.com"},
		"password": {"secret123"},
		"redirect": {"/statistics/"},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/statistics/", w.Header().Get("Location"))

	w = app.do(http.MethodPost, "/auth/login", url.Values{
		"email":    {"ana"},
		"password": {"secret123"},
		"redirect": {"//evil.example"},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestAdmin_Access(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.do(http.MethodGet, "/admin/movies", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login?redirect=%2Fadmin%2Fmovies", w.Header().Get("Location"))

	w = app.do(http.MethodGet, "/admin/movies", nil, app.tokenCookie(t, model.RoleUser))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(http.MethodGet, "/admin/movies", nil, app.tokenCookie(t, model.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_MovieLifecycle(t *testing.T) {
	app := newTestApp(t, fixedEmbedder{0.5, 0.5})
	admin := app.tokenCookie(t, model.RoleAdmin)
	ctx := context.Background()

	// 先生成一次统计缓存
	require.Equal(t, http.StatusOK, app.do(http.MethodGet, "/statistics/", nil).Code)

	w := app.do(http.MethodPost, "/admin/movies", url.Values{"title": {"Heat"}, "year": {"19x5"}}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, parse(t, w).Find(".error").Text(), "年份必须是数字")

	w = app.do(http.MethodPost, "/admin/movies", url.Values{
		"title": {" Heat "}, "year": {"1995"}, "genre": {"Crime, Drama"}, "description": {"A heist."},
	}, admin)
	require.Equal(t, http.StatusFound, w.Code)

	movie, err := app.repos.Movie.FindByTitle(ctx, "Heat")
	require.NoError(t, err)
	require.NotNil(t, movie)
	require.NotNil(t, movie.Year)
	assert.Equal(t, 1995, *movie.Year)
	assert.False(t, movie.HasEmbedding())

	// 写入后统计缓存失效
	w = app.do(http.MethodGet, "/statistics/", nil)
	assert.Contains(t, parse(t, w).Find(".total").Text(), "1")

	id := strconv.Itoa(movie.ID)
	w = app.do(http.MethodGet, "/admin/movies/"+id+"/edit", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	title, _ := parse(t, w).Find("input[name=title]").Attr("value")
	assert.Equal(t, "Heat", title)

	w = app.do(http.MethodPost, "/admin/movies/"+id+"/embed", nil, admin)
	require.Equal(t, http.StatusFound, w.Code)
	movie, err = app.repos.Movie.FindByID(ctx, movie.ID)
	require.NoError(t, err)
	assert.True(t, movie.HasEmbedding())

	w = app.do(http.MethodPost, "/admin/movies/"+id, url.Values{"title": {"Heat (1995)"}, "year": {""}}, admin)
	require.Equal(t, http.StatusFound, w.Code)
	movie, err = app.repos.Movie.FindByID(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, "Heat (1995)", movie.Title)
	assert.Nil(t, movie.Year)
	assert.True(t, movie.HasEmbedding())

	w = app.do(http.MethodPost, "/admin/movies/"+id+"/delete", nil, admin)
	require.Equal(t, http.StatusFound, w.Code)
	movie, err = app.repos.Movie.FindByID(ctx, movie.ID)
	require.NoError(t, err)
	assert.Nil(t, movie)

	w = app.do(http.MethodGet, "/admin/movies/"+id+"/edit", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNews(t *testing.T) {
	app := newTestApp(t, nil)
	admin := app.tokenCookie(t, model.RoleAdmin)

	w := app.do(http.MethodGet, "/news/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := parse(t, w)
	assert.Contains(t, doc.Find(".news .empty").Text(), "暂无新闻")
	assert.True(t, doc.Find(`nav a[href="/news/"]`).HasClass("active"))

	w = app.do(http.MethodPost, "/admin/news", url.Values{"headline": {"Festival"}, "date": {"2024/05/01"}}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, parse(t, w).Find(".error").Text(), "日期格式应为 YYYY-MM-DD")

	w = app.do(http.MethodPost, "/admin/news", url.Values{"headline": {"Festival"}, "date": {"2024-05-01"}}, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/auth/login")

	w = app.do(http.MethodPost, "/admin/news", url.Values{
		"headline": {" Festival lineup "}, "body": {"Twelve premieres."}, "date": {"2024-05-01"},
	}, admin)
	require.Equal(t, http.StatusFound, w.Code)

	w = app.do(http.MethodGet, "/news/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	item := parse(t, w).Find(".news-item")
	require.Equal(t, 1, item.Length())
	assert.Equal(t, "Festival lineup", item.Find("h2").Text())
	assert.Equal(t, "2024-05-01", item.Find("time").Text())

	w = app.doJSON(http.MethodGet, "/api/news", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []struct {
			ID       int    `json:"id"`
			Headline string `json:"headline"`
			Body     string `json:"body"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Twelve premieres.", list.Data[0].Body)

	id := strconv.Itoa(list.Data[0].ID)
	w = app.do(http.MethodPost, "/admin/news/"+id+"/delete", nil, admin)
	require.Equal(t, http.StatusFound, w.Code)
	w = app.do(http.MethodPost, "/admin/news/"+id+"/delete", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotFoundAndHealth(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.do(http.MethodGet, "/no/such/page", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "404", parse(t, w).Find(".error-page h1").Text())

	w = app.doJSON(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"embedding":"disabled"`)
}

func TestFuncMap(t *testing.T) {
	fm := FuncMap()

	dict := fm["dict"].(func(...interface{}) (map[string]interface{}, error))
	m, err := dict("a", 1, "b", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": "x"}, m)
	_, err = dict("odd")
	assert.Error(t, err)

	def := fm["default"].(func(interface{}, interface{}) interface{})
	assert.Equal(t, "fallback", def("fallback", ""))
	assert.Equal(t, "set", def("fallback", "set"))
}
