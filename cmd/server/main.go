package main

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/user/moviereviews/internal/config"
	"github.com/user/moviereviews/internal/handler"
	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/middleware"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/repository"
	"github.com/user/moviereviews/internal/router"
	"github.com/user/moviereviews/internal/service"
	"github.com/user/moviereviews/internal/utils"
)

func main() {
	// 注册 Session 模型
	gob.Register(model.SessionUser{})

	loaded := config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Strs("env_files", loaded).Str("env", cfg.Env).Str("db_driver", cfg.Database.Driver).Msg("配置加载完成")

	// 初始化数据库
	db, err := repository.InitDB(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		logging.Fatal().Err(err).Msg("数据库连接失败")
	}
	defer repository.Close(db)

	if err := repository.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("数据库迁移失败")
	}

	repos := repository.NewRepositories(db)
	utils.InitCache()

	// 向量服务不可用时站点照常运行，推荐页返回 502
	var embedder utils.Embedder
	if client, err := utils.NewEmbeddingClient(cfg.Embedding); err != nil {
		logging.Warn().Err(err).Str("provider", cfg.Embedding.Provider).Msg("向量服务未启用")
	} else {
		embedder = client
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Security())
	r.Use(middleware.CORS())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Session 中间件
	store := cookie.NewStore([]byte(cfg.AppSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.IsProduction() && strings.HasPrefix(cfg.SiteUrl, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("mysession", store))

	r.HTMLRender = router.LoadTemplates(cfg.Web.TemplatesDir)

	// 静态文件与上传的海报
	r.Static("/static", cfg.Web.StaticDir)
	r.Static(strings.TrimSuffix(cfg.Media.URL, "/"), cfg.Media.Root)

	h := handler.NewHandler(repos, cfg, embedder)
	limiter := middleware.NewRateLimiter(cfg.RecommendRatePerMinute, 10000)
	router.RegisterRoutes(r, h, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 后台回填缺失的向量
	if embedder != nil {
		service.NewEmbeddingSyncService(repos.Movie, embedder, nil).Start(ctx, cfg.Embedding.SyncInterval)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   cfg.Embedding.Timeout + 15*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logging.Info().Msgf("服务器启动于 http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("正在关闭服务器...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("服务器强制关闭")
	}
	logging.Info().Msg("服务器已退出")
}
