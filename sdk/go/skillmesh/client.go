// Package skillmesh provides a typed Go client for the SkillMesh registry
// REST API: reputation lookups, contribution submission, certification
// proposals and the administrative trust recompute endpoint.
package skillmesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the SkillMesh registry REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Reputation mirrors the reputation record returned by the registry.
type Reputation struct {
	AgentID       string         `json:"agent_id"`
	Score         float64        `json:"score"`
	Contributions int64          `json:"contributions"`
	Validations   int64          `json:"validations"`
	History       []HistoryEntry `json:"history,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// HistoryEntry is a single append-only reputation mutation.
type HistoryEntry struct {
	Timestamp int64   `json:"timestamp"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"reason"`
}

// Leaderboard is a page of the score-ordered agent ranking.
type Leaderboard struct {
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
	Records []Reputation `json:"records"`
}

// Badge describes a granted certification badge.
type Badge struct {
	ID        string `json:"badge_id"`
	AgentID   string `json:"agent_id"`
	Domain    string `json:"domain"`
	Level     string `json:"level"`
	GrantedAt int64  `json:"granted_at"`
	GrantedBy string `json:"granted_by"`
}

// Contribution is the payload required to submit a contribution event.
type Contribution struct {
	AgentID string  `json:"agent_id"`
	Delta   float64 `json:"delta"`
	Reason  string  `json:"reason,omitempty"`
	UnitID  string  `json:"unit_id,omitempty"`
}

// Validation is the payload required to submit a peer-validation vote.
type Validation struct {
	ValidatorID string `json:"validator_id"`
	TargetID    string `json:"target_id"`
	UnitID      string `json:"unit_id,omitempty"`
	Valid       bool   `json:"valid"`
}

// Event reports the async processing state of a submitted contribution or
// validation.
type Event struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Kind        string  `json:"kind"`
	Delta       float64 `json:"delta"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LastError   string  `json:"last_error,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// ProposalRequest is the payload required to open a certification proposal.
type ProposalRequest struct {
	AgentID     string `json:"agent_id"`
	Domain      string `json:"domain,omitempty"`
	TargetLevel string `json:"target_level"`
	ProposedBy  string `json:"proposed_by"`
}

// Proposal describes a certification proposal and its recorded votes.
type Proposal struct {
	ID          string `json:"proposal_id"`
	AgentID     string `json:"agent_id"`
	Domain      string `json:"domain"`
	TargetLevel string `json:"target_level"`
	ProposedBy  string `json:"proposed_by"`
	Votes       []Vote `json:"votes"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	ClosesAt    int64  `json:"closes_at"`
}

// Vote is a single weighted proposal vote.
type Vote struct {
	VoterID string  `json:"voter_id"`
	Approve bool    `json:"approve"`
	Weight  float64 `json:"weight"`
}

// TrustResult reports a completed global trust recomputation.
type TrustResult struct {
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Agents     int                `json:"agents"`
	Digest     string             `json:"digest"`
	Scores     map[string]float64 `json:"scores"`
	Receipt    *AnchorReceipt     `json:"receipt,omitempty"`
}

// AnchorReceipt records the chain head the trust digest was bound to.
type AnchorReceipt struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	AnchoredAt  int64  `json:"anchored_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("skillmesh api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("skillmesh api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the SkillMesh registry API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: apiKey}, nil
}

// SetAPIKey overrides the stored API key.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// GetReputation fetches the reputation record of a single agent.
func (c *Client) GetReputation(ctx context.Context, agentID string) (Reputation, error) {
	var record Reputation
	endpoint := fmt.Sprintf("/api/v1/agents/%s/reputation", url.PathEscape(agentID))
	if err := c.get(ctx, endpoint, &record); err != nil {
		return Reputation{}, err
	}
	return record, nil
}

// GetLeaderboard fetches a page of the score-ordered ranking.
func (c *Client) GetLeaderboard(ctx context.Context, offset, limit int) (Leaderboard, error) {
	var board Leaderboard
	endpoint := fmt.Sprintf("/api/v1/leaderboard?offset=%d&limit=%d", offset, limit)
	if err := c.get(ctx, endpoint, &board); err != nil {
		return Leaderboard{}, err
	}
	return board, nil
}

// GetBadges fetches all badges granted to an agent.
func (c *Client) GetBadges(ctx context.Context, agentID string) ([]Badge, error) {
	var resp struct {
		Badges []Badge `json:"badges"`
	}
	endpoint := fmt.Sprintf("/api/v1/agents/%s/badges", url.PathEscape(agentID))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Badges, nil
}

// SubmitContribution enqueues a contribution event and returns its pending
// state. The reputation mutation is applied asynchronously.
func (c *Client) SubmitContribution(ctx context.Context, contribution Contribution) (Event, error) {
	var event Event
	if err := c.post(ctx, "/api/v1/contributions", contribution, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// SubmitValidation enqueues a peer-validation vote.
func (c *Client) SubmitValidation(ctx context.Context, validation Validation) (Event, error) {
	var event Event
	if err := c.post(ctx, "/api/v1/validations", validation, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// GetEvent fetches the processing state of a submitted event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (Event, error) {
	var event Event
	endpoint := fmt.Sprintf("/api/v1/contributions/%s", url.PathEscape(eventID))
	if err := c.get(ctx, endpoint, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// CreateProposal opens a certification proposal.
func (c *Client) CreateProposal(ctx context.Context, req ProposalRequest) (Proposal, error) {
	var proposal Proposal
	if err := c.post(ctx, "/api/v1/proposals", req, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// GetProposal fetches a proposal by identifier.
func (c *Client) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var proposal Proposal
	endpoint := fmt.Sprintf("/api/v1/proposals/%s", url.PathEscape(proposalID))
	if err := c.get(ctx, endpoint, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// ListOpenProposals fetches all proposals still inside their voting window.
func (c *Client) ListOpenProposals(ctx context.Context) ([]Proposal, error) {
	var resp struct {
		Proposals []Proposal `json:"proposals"`
	}
	if err := c.get(ctx, "/api/v1/proposals", &resp); err != nil {
		return nil, err
	}
	return resp.Proposals, nil
}

// VoteProposal casts a weighted vote on an open proposal.
func (c *Client) VoteProposal(ctx context.Context, proposalID, voterID string, approve bool) (Proposal, error) {
	var proposal Proposal
	endpoint := fmt.Sprintf("/api/v1/proposals/%s/votes", url.PathEscape(proposalID))
	payload := map[string]any{"voter_id": voterID, "approve": approve}
	if err := c.post(ctx, endpoint, payload, &proposal); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// SweepProposals resolves all proposals past their voting deadline. Requires
// an API key carrying the admin scope.
func (c *Client) SweepProposals(ctx context.Context) (int, error) {
	var resp struct {
		Resolved int `json:"resolved"`
	}
	if err := c.post(ctx, "/api/v1/proposals/sweep", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Resolved, nil
}

// RecomputeTrust triggers a global trust recomputation. Requires an API key
// carrying the admin scope.
func (c *Client) RecomputeTrust(ctx context.Context) (TrustResult, error) {
	var result TrustResult
	if err := c.post(ctx, "/api/v1/trust/recompute", nil, &result); err != nil {
		return TrustResult{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
