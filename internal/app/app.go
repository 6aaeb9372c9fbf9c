package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/platforms/internal/auth"
	"github.com/hitoshi/platforms/internal/config"
	"github.com/hitoshi/platforms/internal/database"
	"github.com/hitoshi/platforms/internal/handler"
	"github.com/hitoshi/platforms/internal/logger"
	"github.com/hitoshi/platforms/internal/mail"
	"github.com/hitoshi/platforms/internal/metrics"
	"github.com/hitoshi/platforms/internal/middleware"
	"github.com/hitoshi/platforms/internal/repository"
	"github.com/hitoshi/platforms/internal/routing"
	"github.com/hitoshi/platforms/internal/security"
	"github.com/hitoshi/platforms/internal/session"
	"github.com/hitoshi/platforms/internal/tenant"
	"github.com/hitoshi/platforms/internal/user"
	"github.com/hitoshi/platforms/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイル（存在する場合のみ）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		_, err := io.WriteString(w, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("STATUS_PORT")
		if port == "" {
			port = config.DefaultStatusPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.SetDefault(logger.WithMode(slog.Default(), string(cmd)))
	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("status_port", cfg.StatusPort),
		slog.String("root_domain", cfg.RootDomain),
		slog.Bool("production", cfg.Production),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newRegistry はアプリケーションのメトリクスとGo・プロセスのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// oauthTimeout はIdPへのトークン交換とユーザー情報取得のタイムアウト。
const oauthTimeout = 10 * time.Second

// oauthProviders は認証情報が設定されたプロバイダーのみを返す。
// IdPへの通信にはSSRF対策済みのHTTPクライアントを使う。
func oauthProviders(cfg *config.Config) []auth.OAuthProvider {
	var providers []auth.OAuthProvider
	client := security.NewSSRFGuard().NewSafeClient(oauthTimeout)
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.OAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.AppURL + "/api/auth/callback/" + auth.ProviderGitHub,
			HTTPClient:   client,
		}))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.AppURL + "/api/auth/callback/" + auth.ProviderGoogle,
			HTTPClient:   client,
		}))
	}
	return providers
}

// newMailer はSMTPの認証情報があればSMTPMailerを、なければリンクをログに出すLogMailerを返す。
func newMailer(cfg *config.Config) auth.Mailer {
	if cfg.SMTPPassword == "" {
		slog.Warn("SMTP password is not set, verification links will only be logged")
		return mail.LogMailer{}
	}
	return mail.NewSMTPMailer(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)
	tokenRepo := repository.NewPostgresVerificationTokenRepo(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)

	// 3. セッションストア
	sessions := session.NewStore(session.Config{
		Secret: cfg.SessionSecret,
		MaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})

	// 4. ホスト判定とルート書き換え
	resolver := tenant.NewResolver(tenant.Config{
		RootDomain:       cfg.RootDomain,
		DeploymentSuffix: cfg.DeploymentSuffix,
		MarketingHost:    cfg.MarketingHost,
		DevPort:          cfg.DevPort,
	})
	rewriter := routing.NewRewriter(resolver, routing.NewGate(sessions), cfg.MarketingURL)

	// 5. メトリクスとレート制限
	reg, collector := newRegistry()
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitSignIn))
	defer rateLimiter.Stop()

	// 6. サインインフロー
	flow := auth.NewVerificationFlow(userRepo)
	providers := oauthProviders(cfg)
	authService := auth.NewService(userRepo, accountRepo, flow, providers...)
	emailSignIn := auth.NewEmailSignIn(flow, tokenRepo, newMailer(cfg), rateLimiter, auth.EmailSignInConfig{
		AppURL:      cfg.AppURL,
		TokenMaxAge: cfg.VerificationTokenMaxAge,
	})

	slog.Info("sign-in providers configured",
		slog.Int("oauth_providers", len(providers)),
		slog.Bool("github", cfg.GitHubEnabled()),
		slog.Bool("google", cfg.GoogleEnabled()),
	)

	// 7. ドメインサービスとアダプタ
	userService := user.NewService(userRepo)
	siteService := handler.NewSiteServiceAdapter(auth.NewGuard(siteRepo, postRepo))

	// 8. ルーターの構築
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}
	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		Collector:          collector,
		RouteResolver:      rewriter,
		Sessions:           sessions,
		RateLimiter:        rateLimiter,
		CSRFConfig:         csrfConfig,
		CORSAllowedOrigins: []string{cfg.AppURL},
		Production:         cfg.Production,

		OAuthService: authService,
		EmailSignIn:  emailSignIn,
		AuthConfig:   handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},

		UserService: userService,
		SiteService: siteService,
	}

	router := handler.NewRouter(deps)

	// 9. ステータスサーバー（/health、/metrics）はテナントのホストに公開しない
	status := startStatusServer(cfg.StatusPort, db, reg)
	defer shutdownStatusServer(status)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// startStatusServer は/healthと/metricsを提供するステータスサーバーをバックグラウンドで起動する。
func startStatusServer(port string, checker handler.HealthChecker, gatherer prometheus.Gatherer) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.NewStatusRouter(checker, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("status server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server error", slog.String("error", err.Error()))
		}
	}()
	return server
}

func shutdownStatusServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("status server shutdown failed", slog.String("error", err.Error()))
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れトークンのクリーンアップジョブを日次で実行する。
// /healthと/metricsのみを提供するステータスサーバーも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. クリーンアップジョブの初期化
	reg, collector := newRegistry()
	tokenRepo := repository.NewPostgresVerificationTokenRepo(db)
	cleanupJob := cleanup.NewCleanupJob(tokenRepo, collector, slog.Default())

	// 3. グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	status := startStatusServer(cfg.StatusPort, db, reg)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cleanupJob.Interval))

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx)

	shutdownStatusServer(status)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Uint64("latest_schema_version", uint64(database.LatestSchemaVersion)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
