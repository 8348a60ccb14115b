package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/libraryapi/internal/auth"
	"github.com/hitoshi/libraryapi/internal/catalog"
	"github.com/hitoshi/libraryapi/internal/config"
	"github.com/hitoshi/libraryapi/internal/handler"
	"github.com/hitoshi/libraryapi/internal/loan"
	"github.com/hitoshi/libraryapi/internal/logger"
	"github.com/hitoshi/libraryapi/internal/metrics"
	"github.com/hitoshi/libraryapi/internal/middleware"
	"github.com/hitoshi/libraryapi/internal/repository"
	"github.com/hitoshi/libraryapi/internal/security"
	"github.com/hitoshi/libraryapi/internal/worker/overdue"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}
	logger.SetLevel(level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := newRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// application はHTTPサーバーと延滞集計ジョブが共有する依存関係をまとめたもの。
type application struct {
	store     repository.Store
	auth      *auth.Service
	loans     *loan.Service
	collector *metrics.Collector
	limiter   *middleware.RateLimiter
	handler   http.Handler
	scanner   *overdue.Scanner
}

// openStore はSTORAGE_DRIVERに応じたストアを生成する。
func openStore(cfg *config.Config, log *slog.Logger) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data will be lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		store, err := repository.NewJSONFileStore(cfg.DataDir, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open data directory: %w", err)
		}
		return store, nil
	}
}

// newApplication はストアを開き、全依存関係をワイヤリングする。
func newApplication(cfg *config.Config, log *slog.Logger) (*application, error) {
	// 1. ストア
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("storage is not available: %w", err)
	}

	a := &application{store: store}

	// 2. メトリクス
	var registry *prometheus.Registry
	var recorder loan.Recorder
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(registry)
		recorder = a.collector
	}

	// 3. ドメインサービス
	a.auth = auth.NewService(store, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})
	catalogService := catalog.NewService(store, security.NewMarkupDetector())
	a.loans = loan.NewService(store, loan.Config{LoanPeriod: cfg.LoanPeriod}, recorder)

	// 4. レート制限（req/min）
	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.GeneralPerMinute = cfg.RateLimitGeneral
	rlConfig.AuthPerMinute = cfg.RateLimitAuth
	a.limiter = middleware.NewRateLimiter(rlConfig)

	// 5. ルーター
	deps := &handler.RouterDeps{
		TokenResolver:     a.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       a.limiter,
		Logger:            log,

		AuthService:   a.auth,
		AuthorService: catalogService,
		BookService:   catalogService,
		LoanService:   a.loans,

		HealthChecker:   store,
		DefaultPageSize: cfg.DefaultPageSize,
	}
	if a.collector != nil {
		deps.MetricsRecorder = a.collector
		deps.MetricsGatherer = registry
	}
	a.handler = handler.NewRouter(deps)

	// 6. 延滞集計ジョブ
	var gauge overdue.Gauge
	if a.collector != nil {
		gauge = a.collector
	}
	a.scanner = overdue.NewScanner(a.loans, gauge, log)

	return a, nil
}

// close はバックグラウンドで動作するリソースを停止する。
func (a *application) close() {
	a.limiter.Stop()
}

// serve は設定を読み込み、シグナルを受信するまでAPIサーバーを起動する。
func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("storage", string(cfg.StorageDriver)),
		slog.String("data_dir", cfg.DataDir),
		slog.String("addr", cfg.Addr()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg, slog.Default())
}

// runServe はAPIサーバーと延滞集計ジョブを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApplication(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	go a.scanner.Start(jobCtx, cfg.OverdueScanInterval)

	listenErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}

	log.Info("shutting down API server...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はSERVER_PORTを参照してヘルスチェック先のポートを返す。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8000"
}
