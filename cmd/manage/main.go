package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/user/moviereviews/internal/config"
	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/repository"
	"github.com/user/moviereviews/internal/service"
	"github.com/user/moviereviews/internal/utils"
)

// app 子命令共享的配置和数据库
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	repos *repository.Repositories
}

func setup() (*app, error) {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := repository.InitDB(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, db: db, repos: repository.NewRepositories(db)}, nil
}

func (a *app) close() {
	if err := repository.Close(a.db); err != nil {
		logging.Warn().Err(err).Msg("关闭数据库失败")
	}
}

// withApp 初始化后执行子命令
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, cmd)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "manage",
		Short:         "MovieReviews 维护命令",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		updateImagesCmd(),
		showRandomEmbeddingCmd(),
		embedMoviesCmd(),
		importMoviesCmd(),
		createAdminCmd(),
		addNewsCmd(),
		migrateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func updateImagesCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "update-images",
		Short: "根据图片文件名为电影分配海报（模糊匹配标题）",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if dir == "" {
				dir = service.ImagesDir(a.cfg.Media.Root)
			}
			updater := service.NewImageUpdater(a.repos.Movie, dir, cmd.OutOrStdout(), cmd.ErrOrStderr())
			_, err := updater.Run(ctx)
			return err
		}),
	}
	cmd.Flags().StringVar(&dir, "dir", "", "图片目录，默认 MEDIA_ROOT/movie/images")
	return cmd
}

func showRandomEmbeddingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-random-embedding",
		Short: "随机显示一部电影的向量",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			movie, err := a.repos.Movie.RandomWithEmbedding(ctx)
			if err != nil {
				return err
			}
			if movie == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "数据库中没有带向量的电影。")
				return nil
			}
			preview, err := service.EmbeddingPreview(movie, 10)
			if err != nil {
				return fmt.Errorf("电影 %q 的向量无法解析: %w", movie.Title, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Repeat("─", 60))
			fmt.Fprintln(out, preview)
			fmt.Fprintln(out, strings.Repeat("─", 60))
			return nil
		}),
	}
}

func embedMoviesCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "embed-movies",
		Short: "为电影生成向量（默认只处理没有向量的电影）",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			client, err := utils.NewEmbeddingClient(a.cfg.Embedding)
			if err != nil {
				return err
			}
			sync := service.NewEmbeddingSyncService(a.repos.Movie, client, cmd.OutOrStdout())
			report, err := sync.Run(ctx, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "完成: 成功 %d，失败 %d，维度 %d\n", report.Embedded, report.Failed, report.Dimension)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "重新生成所有电影的向量")
	return cmd
}

func importMoviesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-movies",
		Short: "从 CSV 导入电影（title,genre,year,description[,image]）",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := repository.Migrate(a.db); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			report, err := service.NewImporter(a.repos.Movie).Import(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "导入完成: 新建 %d，更新 %d，跳过 %d\n", report.Created, report.Updated, report.Skipped)
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV 文件路径")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func createAdminCmd() *cobra.Command {
	var email, password, username string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "创建管理员，或将已有用户提升为管理员",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := repository.Migrate(a.db); err != nil {
				return err
			}
			email = strings.ToLower(strings.TrimSpace(email))
			existing, err := a.repos.User.FindByEmail(ctx, email)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := a.repos.User.UpdateRole(ctx, existing.ID, model.RoleAdmin); err != nil {
					return err
				}
				if password != "" {
					if err := a.repos.User.UpdatePassword(ctx, existing.ID, password); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已将 %s 设为管理员\n", email)
				return nil
			}

			if len(password) < 6 {
				return errors.New("密码至少需要 6 个字符")
			}
			if username == "" {
				username = strings.SplitN(email, "@", 2)[0]
			}
			if _, err := a.repos.User.Create(ctx, email, username, password, model.RoleAdmin); err != nil {
				if repository.IsUniqueViolation(err) {
					return fmt.Errorf("用户名 %q 已被占用", username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已创建管理员 %s\n", email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "邮箱")
	cmd.Flags().StringVar(&password, "password", "", "密码（至少 6 个字符）")
	cmd.Flags().StringVar(&username, "username", "", "用户名，默认取邮箱 @ 前的部分")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func addNewsCmd() *cobra.Command {
	var headline, body, date string
	cmd := &cobra.Command{
		Use:   "add-news",
		Short: "发布一条新闻",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := repository.Migrate(a.db); err != nil {
				return err
			}
			day := time.Now().UTC().Truncate(24 * time.Hour)
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("日期格式应为 YYYY-MM-DD: %w", err)
				}
				day = d
			}
			n := &model.News{Headline: strings.TrimSpace(headline), Body: strings.TrimSpace(body), Date: day}
			if n.Headline == "" {
				return errors.New("标题不能为空")
			}
			if err := a.repos.News.Create(ctx, n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已发布新闻 #%d: %s\n", n.ID, n.Headline)
			return nil
		}),
	}
	cmd.Flags().StringVar(&headline, "headline", "", "标题")
	cmd.Flags().StringVar(&body, "body", "", "正文")
	cmd.Flags().StringVar(&date, "date", "", "日期 YYYY-MM-DD，默认今天")
	_ = cmd.MarkFlagRequired("headline")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "自动迁移数据库表结构",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := repository.Migrate(a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "迁移完成")
			return nil
		}),
	}
}
