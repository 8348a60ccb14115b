package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/libraryapi/internal/auth"
	"github.com/hitoshi/libraryapi/internal/catalog"
	"github.com/hitoshi/libraryapi/internal/loan"
	"github.com/hitoshi/libraryapi/internal/metrics"
	"github.com/hitoshi/libraryapi/internal/middleware"
	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/repository"
	"github.com/hitoshi/libraryapi/internal/security"
)

// testServer はメモリストア上に本番と同じ構成のルーターを組み立てたテスト用サーバー。
type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *repository.MemoryStore
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	authService := auth.NewService(store, auth.ServiceConfig{BcryptCost: bcrypt.MinCost})
	catalogService := catalog.NewService(store, security.NewMarkupDetector())

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	loanService := loan.NewService(store, loan.Config{}, collector)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{GeneralPerMinute: 10000, AuthPerMinute: 10000})
	t.Cleanup(rl.Stop)

	var logs bytes.Buffer
	handler := NewRouter(&RouterDeps{
		TokenResolver:     authService,
		CORSAllowedOrigin: "*",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(&logs, nil)),
		MetricsRecorder:   collector,
		MetricsGatherer:   reg,
		AuthService:       authService,
		AuthorService:     catalogService,
		BookService:       catalogService,
		LoanService:       loanService,
		HealthChecker:     store,
		DefaultPageSize:   10,
	})

	return &testServer{t: t, handler: handler, store: store, logs: &logs}
}

// do はリクエストを送信してレスポンスを返す。tokenが空の場合は匿名で送信する。
func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = newJSONRequest(method, path, body)
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// registerAndLogin は利用者を登録してトークンを返す。
func (s *testServer) registerAndLogin(username, role string) string {
	s.t.Helper()
	body := `{"username":"` + username + `","email":"` + username + `@example.com","password":"pw-` + username + `","role":"` + role + `"}`
	if w := s.do(http.MethodPost, "/api/auth/register/", "", body); w.Code != http.StatusCreated {
		s.t.Fatalf("register %s status = %d, body=%s", username, w.Code, w.Body.String())
	}
	w := s.do(http.MethodPost, "/api/auth/login/", "", `{"username":"`+username+`","password":"pw-`+username+`"}`)
	if w.Code != http.StatusOK {
		s.t.Fatalf("login %s status = %d, body=%s", username, w.Code, w.Body.String())
	}
	return decodeBody[map[string]string](s.t, w)["token"]
}

func (s *testServer) seedBook(token string) int64 {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/authors/", token, `{"name":"Frank Herbert"}`)
	if w.Code != http.StatusCreated {
		s.t.Fatalf("create author status = %d, body=%s", w.Code, w.Body.String())
	}
	author := decodeBody[model.Author](s.t, w)

	w = s.do(http.MethodPost, "/api/books/", token,
		`{"title":"Dune","publication_year":1965,"isbn":"9780441013593","author":`+itoa(author.ID)+`,"total_copies":2}`)
	if w.Code != http.StatusCreated {
		s.t.Fatalf("create book status = %d, body=%s", w.Code, w.Body.String())
	}
	return decodeBody[model.Book](s.t, w).ID
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// --- シナリオテスト ---

func TestRouter_BorrowScenario(t *testing.T) {
	s := newTestServer(t)
	librarian := s.registerAndLogin("libby", "LIBRARIAN")
	alice := s.registerAndLogin("alice", "")
	bookID := s.seedBook(librarian)

	w := s.do(http.MethodPost, "/api/loans/borrow/", alice, `{"book_id":`+itoa(bookID)+`}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d, body=%s", w.Code, w.Body.String())
	}
	created := decodeBody[loanResponse](t, w)
	if created.Status != model.LoanStatusBorrowed || created.Overdue {
		t.Errorf("loan = %+v", created)
	}

	w = s.do(http.MethodGet, "/api/books/"+itoa(bookID)+"/", "", "")
	if got := decodeBody[model.Book](t, w).AvailableCopies; got != 1 {
		t.Errorf("available_copies = %d, want 1", got)
	}

	// 同じ蔵書の二重貸出は409
	w = s.do(http.MethodPost, "/api/loans/borrow/", alice, `{"book_id":`+itoa(bookID)+`}`)
	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeDuplicateLoan)

	// 返却で在庫が戻る
	w = s.do(http.MethodPost, "/api/loans/return/", alice, `{"book_id":`+itoa(bookID)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("return status = %d, body=%s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, "/api/books/"+itoa(bookID)+"/", "", "")
	if got := decodeBody[model.Book](t, w).AvailableCopies; got != 2 {
		t.Errorf("available_copies after return = %d, want 2", got)
	}

	// 返却済みの貸出をもう一度返却すると409
	w = s.do(http.MethodPost, "/api/loans/return/", alice, `{"loan_id":`+itoa(created.ID)+`}`)
	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeAlreadyReturned)

	w = s.do(http.MethodGet, "/api/loans/mine/?status=RETURNED", alice, "")
	if w.Code != http.StatusOK {
		t.Fatalf("mine status = %d", w.Code)
	}
	mine := decodeBody[listResponse[loanResponse]](t, w)
	if mine.Count != 1 || mine.Results[0].Status != model.LoanStatusReturned {
		t.Errorf("mine = %+v", mine)
	}
}

func TestRouter_ConcurrentBorrowOfLastCopy(t *testing.T) {
	s := newTestServer(t)
	librarian := s.registerAndLogin("libby", "LIBRARIAN")
	bookID := s.seedBook(librarian)
	w := s.do(http.MethodPatch, "/api/books/"+itoa(bookID)+"/", librarian, `{"available_copies":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d", w.Code)
	}

	tokens := make([]string, 8)
	for i := range tokens {
		tokens[i] = s.registerAndLogin("member"+itoa(int64(i+1)), "")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			req := newJSONRequest(http.MethodPost, "/api/loans/borrow/", `{"book_id":`+itoa(bookID)+`}`)
			req.Header.Set("Authorization", "Token "+tok)
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			mu.Lock()
			statuses[rec.Code]++
			mu.Unlock()
		}(tok)
	}
	wg.Wait()

	if statuses[http.StatusCreated] != 1 || statuses[http.StatusConflict] != len(tokens)-1 {
		t.Errorf("statuses = %v, want exactly one 201", statuses)
	}
	books, err := s.store.LoadBooks(context.Background())
	if err != nil {
		t.Fatalf("LoadBooks error = %v", err)
	}
	if books[0].AvailableCopies != 0 {
		t.Errorf("available_copies = %d, want 0", books[0].AvailableCopies)
	}
}

func TestRouter_AuthorizationMatrix(t *testing.T) {
	s := newTestServer(t)
	member := s.registerAndLogin("alice", "MEMBER")

	// 蔵書一覧は匿名でも参照できる
	if w := s.do(http.MethodGet, "/api/books/", "", ""); w.Code != http.StatusOK {
		t.Errorf("anonymous GET /api/books/ = %d, want 200", w.Code)
	}

	assertErrorCode(t, s.do(http.MethodPost, "/api/authors/", "", `{"name":"x"}`), http.StatusUnauthorized, model.ErrCodeNotAuthenticated)
	assertErrorCode(t, s.do(http.MethodPost, "/api/authors/", member, `{"name":"x"}`), http.StatusForbidden, model.ErrCodePermissionDenied)
	assertErrorCode(t, s.do(http.MethodGet, "/api/loans/", member, ""), http.StatusForbidden, model.ErrCodePermissionDenied)
	assertErrorCode(t, s.do(http.MethodPost, "/api/loans/borrow/", "", `{"book_id":1}`), http.StatusUnauthorized, model.ErrCodeNotAuthenticated)

	// 未知のトークンは匿名として扱う
	assertErrorCode(t, s.do(http.MethodGet, "/api/loans/mine/", "unknown-token", ""), http.StatusUnauthorized, model.ErrCodeNotAuthenticated)
}

func TestRouter_AuthorRoundTrip(t *testing.T) {
	s := newTestServer(t)
	admin := s.registerAndLogin("root", "admin")

	w := s.do(http.MethodPost, "/api/authors/", admin, `{"name":"Ursula <ursula@example.com>"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", w.Code, w.Body.String())
	}
	author := decodeBody[model.Author](t, w)
	if author.Name != "Ursula <ursula@example.com>" {
		t.Errorf("name = %q, want stored as given", author.Name)
	}

	path := "/api/authors/" + itoa(author.ID) + "/"
	w = s.do(http.MethodPut, path, admin, `{"name":"Ursula K. Le Guin"}`)
	if w.Code != http.StatusOK || decodeBody[model.Author](t, w).Name != "Ursula K. Le Guin" {
		t.Errorf("update status = %d", w.Code)
	}

	w = s.do(http.MethodGet, "/api/authors/?search=k.%20le", "", "")
	list := decodeBody[listResponse[model.Author]](t, w)
	if list.Count != 1 {
		t.Errorf("search count = %d, want 1", list.Count)
	}

	if w := s.do(http.MethodDelete, path, admin, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	assertErrorCode(t, s.do(http.MethodGet, path, "", ""), http.StatusNotFound, model.ErrCodeNotFound)
}

func TestRouter_RegisterWithOverlongPassword(t *testing.T) {
	s := newTestServer(t)

	long := strings.Repeat("p", auth.MaxPasswordBytes+1)
	w := s.do(http.MethodPost, "/api/auth/register/", "",
		`{"username":"longpw","email":"longpw@example.com","password":"`+long+`"}`)
	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalid)

	exact := strings.Repeat("p", auth.MaxPasswordBytes)
	w = s.do(http.MethodPost, "/api/auth/register/", "",
		`{"username":"longpw","email":"longpw@example.com","password":"`+exact+`"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestRouter_LogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin("alice", "")

	if w := s.do(http.MethodPost, "/api/auth/logout/", token, ""); w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", w.Code)
	}
	assertErrorCode(t, s.do(http.MethodGet, "/api/loans/mine/", token, ""), http.StatusUnauthorized, model.ErrCodeNotAuthenticated)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	assertErrorCode(t, s.do(http.MethodGet, "/api/unknown/", "", ""), http.StatusNotFound, model.ErrCodeNotFound)
	assertErrorCode(t, s.do(http.MethodGet, "/api/books/abc/", "", ""), http.StatusNotFound, model.ErrCodeNotFound)
	assertErrorCode(t, s.do(http.MethodGet, "/api/auth/login/", "", ""), http.StatusMethodNotAllowed, model.ErrCodeMethodNotAllowed)
	assertErrorCode(t, s.do(http.MethodDelete, "/api/books/", "", ""), http.StatusMethodNotAllowed, model.ErrCodeMethodNotAllowed)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "libraryapi_http_status_total") {
		t.Errorf("metrics body should contain http status counter")
	}
}

func TestRouter_PreflightAndRequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodOptions, "/api/books/", "", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}

	w = s.do(http.MethodGet, "/api/books/", "", "")
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}
	if !strings.Contains(s.logs.String(), `"msg":"http_request"`) {
		t.Errorf("access log missing: %s", s.logs.String())
	}
}
