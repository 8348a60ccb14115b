package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/libraryapi/internal/metrics"
	"github.com/hitoshi/libraryapi/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenResolver     middleware.TokenResolver
	CORSAllowedOrigin string
	// RateLimiter がnilの場合はレート制限を行わない。
	RateLimiter *middleware.RateLimiter
	// Logger がnilの場合はslog.Default()を使う。
	Logger *slog.Logger

	// メトリクス。いずれもnilの場合は記録・公開しない。
	MetricsRecorder middleware.HTTPMetricsRecorder
	MetricsGatherer prometheus.Gatherer

	AuthService   AuthServiceInterface
	AuthorService AuthorServiceInterface
	BookService   BookServiceInterface
	LoanService   LoanServiceInterface

	HealthChecker   HealthChecker
	DefaultPageSize int
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → Metrics → TokenAuth → RateLimit(General)
//
// 登録・ログインにはさらに認証用のレート制限を適用する。
// 著者・蔵書・貸出の詳細パスはハンドラー側でParseResourcePathにより解析する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.MetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsRecorder))
	}
	r.Use(middleware.NewTokenAuthMiddleware(deps.TokenResolver))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	authHandler := NewAuthHandler(deps.AuthService)
	authorHandler := NewAuthorHandler(deps.AuthorService, deps.DefaultPageSize)
	bookHandler := NewBookHandler(deps.BookService, deps.DefaultPageSize)
	loanHandler := NewLoanHandler(deps.LoanService, deps.DefaultPageSize)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証 ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/register/", authHandler.Register)
			r.Post("/login/", authHandler.Login)
		})
		r.Post("/logout/", authHandler.Logout)
	})

	// --- 著者・蔵書 ---
	mountResource(r, "/api/authors/*", authorHandler.Get, authorHandler.Create, authorHandler.Update, authorHandler.Delete)
	mountResource(r, "/api/books/*", bookHandler.Get, bookHandler.Create, bookHandler.Update, bookHandler.Delete)

	// --- 貸出 ---
	r.Route("/api/loans", func(r chi.Router) {
		r.Post("/borrow/", loanHandler.Borrow)
		r.Post("/return/", loanHandler.Return)
		r.Get("/mine/", loanHandler.Mine)
		r.Get("/*", loanHandler.Get)
	})

	return r
}

// mountResource はCRUDリソースの各メソッドをワイルドカードパターンに登録する。
// PUTとPATCHはどちらも部分更新として扱う。
func mountResource(r chi.Router, pattern string, get, create, update, del http.HandlerFunc) {
	r.Get(pattern, get)
	r.Post(pattern, create)
	r.Put(pattern, update)
	r.Patch(pattern, update)
	r.Delete(pattern, del)
}
