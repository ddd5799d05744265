package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"SkillMesh-Registry/internal/anchor"
	"SkillMesh-Registry/internal/auth"
	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	"SkillMesh-Registry/internal/contribution"
	"SkillMesh-Registry/internal/observability/alerting"
	"SkillMesh-Registry/internal/observability/metrics"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/internal/trust"
)

// Anchorer 抽象信任摘要的链上锚定能力，便于在未配置链时禁用。
type Anchorer interface {
	Anchor(ctx context.Context, digest string) (*anchor.Receipt, error)
}

// Deps 汇集 API 服务依赖的各领域服务。
type Deps struct {
	Ledger        *reputation.Ledger
	Badges        *badge.Grantor
	Contributions *contribution.Service
	Proposals     *certification.Manager
	TrustEngine   *trust.Engine
	TrustApplier  *trust.Applier
	Anchorer      Anchorer
	Auth          *auth.Service
	Alerts        alerting.Dispatcher
}

// Server 负责暴露 REST 接口，供外部读写声誉账本与治理提案。
type Server struct {
	addr string
	deps Deps
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Handler 构建完整的路由表，拆出来便于 httptest 直接驱动。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	readOnly := map[string][]string{"*": {auth.ScopeRead}}
	writes := map[string][]string{
		http.MethodGet:  {auth.ScopeRead},
		http.MethodPost: {auth.ScopeWrite},
	}
	adminOnly := map[string][]string{"*": {auth.ScopeAdmin}}

	mux.Handle("/api/v1/agents/",
		s.route("agents", readOnly, http.HandlerFunc(s.handleAgentSubtree)))
	mux.Handle("/api/v1/leaderboard",
		s.route("leaderboard", readOnly, http.HandlerFunc(s.handleLeaderboard)))
	mux.Handle("/api/v1/contributions",
		s.route("contributions", writes, http.HandlerFunc(s.handleContributions)))
	mux.Handle("/api/v1/contributions/",
		s.route("contribution_detail", readOnly, http.HandlerFunc(s.handleContributionDetail)))
	mux.Handle("/api/v1/validations",
		s.route("validations", writes, http.HandlerFunc(s.handleValidations)))
	// 提案创建是治理操作，收紧到 admin；查询保持只读。
	proposalScopes := map[string][]string{
		http.MethodGet:  {auth.ScopeRead},
		http.MethodPost: {auth.ScopeAdmin},
	}
	mux.Handle("/api/v1/proposals",
		s.route("proposals", proposalScopes, http.HandlerFunc(s.handleProposals)))
	mux.Handle("/api/v1/proposals/",
		s.route("proposal_detail", writes, http.HandlerFunc(s.handleProposalSubtree)))
	// 精确路径优先于前缀路由，管理端点单独收紧范围。
	mux.Handle("/api/v1/proposals/sweep",
		s.route("proposal_sweep", adminOnly, http.HandlerFunc(s.handleProposalSweep)))
	mux.Handle("/api/v1/trust/recompute",
		s.route("trust_recompute", adminOnly, http.HandlerFunc(s.handleTrustRecompute)))

	return mux
}

// route 为单个路由叠加认证中间件与指标采集。
func (s *Server) route(name string, scopes map[string][]string, handler http.Handler) http.Handler {
	instrumented := instrument(name, handler)
	if s.deps.Auth == nil {
		return instrumented
	}
	middleware := s.deps.Auth.Middleware(auth.MiddlewareConfig{
		RequiredScopes: scopes,
		AuditEvent:     name,
	})
	return middleware(instrumented)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 采集每个路由的请求量与时延指标。
func instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// statusRecorder 捕获响应状态码供指标采集使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
