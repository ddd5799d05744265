package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SkillMesh-Registry/internal/badge"
	"SkillMesh-Registry/internal/certification"
	"SkillMesh-Registry/internal/contribution"
	xerrors "SkillMesh-Registry/internal/errors"
	"SkillMesh-Registry/internal/observability/alerting"
	"SkillMesh-Registry/internal/observability/metrics"
	"SkillMesh-Registry/internal/reputation"
	"SkillMesh-Registry/internal/trust"
	"SkillMesh-Registry/pkg/logger"
)

// handleHealth 是存活探针。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgentSubtree 分发 /api/v1/agents/{id}/reputation 与
// /api/v1/agents/{id}/badges 两类查询。
func (s *Server) handleAgentSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "路径格式应为 /api/v1/agents/{id}/{reputation|badges}", http.StatusBadRequest)
		return
	}
	agentID := parts[0]
	switch parts[1] {
	case "reputation":
		record, err := s.deps.Ledger.Get(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "badges":
		badges, err := s.deps.Badges.Badges(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "badges": badges})
	default:
		http.Error(w, "未知的子资源", http.StatusNotFound)
	}
}

// handleLeaderboard 返回按声誉排序的智能体分页列表。
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	records, total, err := s.deps.Ledger.Leaderboard(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"offset":  offset,
		"limit":   limit,
		"records": records,
	})
}

// contributionRequest 是贡献提交的请求体。
type contributionRequest struct {
	AgentID string  `json:"agent_id"`
	Delta   float64 `json:"delta"`
	Reason  string  `json:"reason"`
	UnitID  string  `json:"unit_id"`
}

// handleContributions 接收贡献事件并投递到异步处理管线。
func (s *Server) handleContributions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req contributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	event, err := s.deps.Contributions.SubmitContribution(r.Context(), req.AgentID, req.Delta, req.Reason, req.UnitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

// handleContributionDetail 查询单个贡献事件的处理状态。
func (s *Server) handleContributionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/contributions/"), "/")
	if id == "" {
		http.Error(w, "缺少事件 ID", http.StatusBadRequest)
		return
	}
	event, err := s.deps.Contributions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// validationRequest 是同行校验的请求体。
type validationRequest struct {
	ValidatorID string `json:"validator_id"`
	TargetID    string `json:"target_id"`
	UnitID      string `json:"unit_id"`
	Valid       bool   `json:"valid"`
}

// handleValidations 接收同行校验投票并投递到异步处理管线。
func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	event, err := s.deps.Contributions.SubmitValidation(r.Context(), req.ValidatorID, req.TargetID, req.UnitID, req.Valid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

// proposalRequest 是认证提案的请求体。
type proposalRequest struct {
	AgentID     string `json:"agent_id"`
	Domain      string `json:"domain"`
	TargetLevel string `json:"target_level"`
	ProposedBy  string `json:"proposed_by"`
}

// handleProposals 处理提案创建与开放提案列表查询。
func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req proposalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		proposal, err := s.deps.Proposals.CreateProposal(r.Context(), req.AgentID, req.Domain, badge.Level(req.TargetLevel), req.ProposedBy)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proposal)
	case http.MethodGet:
		proposals, err := s.deps.Proposals.OpenProposals(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// voteRequest 是提案投票的请求体。
type voteRequest struct {
	VoterID string `json:"voter_id"`
	Approve bool   `json:"approve"`
}

// handleProposalSubtree 分发 /api/v1/proposals/{id} 与
// /api/v1/proposals/{id}/votes。
func (s *Server) handleProposalSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/proposals/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		proposal, err := s.deps.Proposals.Proposal(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)
	case len(parts) == 2 && parts[1] == "votes":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		var req voteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		proposal, err := s.deps.Proposals.Vote(r.Context(), parts[0], req.VoterID, req.Approve)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)
	default:
		http.Error(w, "路径格式应为 /api/v1/proposals/{id}[/votes]", http.StatusBadRequest)
	}
}

// handleProposalSweep 终结所有超过投票窗口的提案。
func (s *Server) handleProposalSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	resolved, err := s.deps.Proposals.SweepExpired(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resolved": resolved})
}

// trustRecomputeResponse 汇报一次全局信任重算的结果。
type trustRecomputeResponse struct {
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Agents     int                `json:"agents"`
	Digest     string             `json:"digest"`
	Receipt    *anchorReceipt     `json:"receipt,omitempty"`
	Scores     map[string]float64 `json:"scores"`
}

type anchorReceipt struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	AnchoredAt  int64  `json:"anchored_at"`
}

// handleTrustRecompute 以当前投票日志为输入执行全局信任传播，
// 将结果写回账本，并在配置了锚定链时登记摘要。
func (s *Server) handleTrustRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	votes, err := s.deps.Ledger.Votes(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	result := s.deps.TrustEngine.Compute(votes)
	metrics.ObserveTrustRecompute(result.Converged)

	applied, err := s.deps.TrustApplier.Apply(ctx, result)
	if err != nil {
		s.alert(ctx, err, "信任分写回失败")
		writeError(w, err)
		return
	}

	resp := trustRecomputeResponse{
		Iterations: result.Iterations,
		Converged:  result.Converged,
		Agents:     applied,
		Digest:     trust.Digest(result),
		Scores:     result.Scores,
	}
	if s.deps.Anchorer != nil {
		receipt, err := s.deps.Anchorer.Anchor(ctx, resp.Digest)
		if err != nil {
			// 锚定失败不阻断重算结果回写，记录后继续返回。
			logger.L().Warn("信任摘要锚定失败", "error", err)
			s.alert(ctx, err, "信任摘要锚定失败")
		} else {
			resp.Receipt = &anchorReceipt{
				Chain:       receipt.Chain,
				ChainID:     receipt.ChainID,
				BlockNumber: receipt.BlockNumber,
				AnchoredAt:  receipt.AnchoredAt.Unix(),
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// alert 在严重程度达到告警级别时向通知渠道广播，未配置分发器则静默。
func (s *Server) alert(ctx context.Context, err error, message string) {
	if s.deps.Alerts == nil {
		return
	}
	severity := xerrors.SeverityOf(err)
	if severity == xerrors.SeverityInfo {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(err),
		Message:    message + ": " + err.Error(),
		Severity:   severity,
		OccurredAt: time.Now().UTC(),
	}
	if notifyErr := s.deps.Alerts.Notify(ctx, event); notifyErr != nil {
		logger.L().Warn("告警发送失败", "error", notifyErr)
	}
}

// queryInt 解析非负整型查询参数，非法时退回默认值。
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// writeJSON 输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将领域错误映射为 HTTP 状态码与 JSON 错误体。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case reputation.CodeRecordNotFound, contribution.CodeEventNotFound, certification.CodeProposalNotFound:
		status = http.StatusNotFound
	case contribution.CodeEventConflict, certification.CodeProposalConflict,
		certification.CodeDuplicateVote, certification.CodeProposalClosed:
		status = http.StatusConflict
	case certification.CodeVoterIneligible:
		status = http.StatusForbidden
	case certification.CodeInvalidTargetLevel, contribution.CodeEventValidation,
		reputation.CodeInvalidEventKind, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
