package skillmesh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetReputation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/agent-a/reputation" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("expected bearer key, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(Reputation{
			AgentID:       "agent-a",
			Score:         42.5,
			Contributions: 12,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "key-1", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	record, err := client.GetReputation(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if record.Score != 42.5 || record.Contributions != 12 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestSubmitContribution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contributions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload Contribution
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.AgentID != "agent-a" || payload.Delta != 3 {
			t.Fatalf("unexpected payload %+v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Event{ID: "evt-1", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "key-1", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	event, err := client.SubmitContribution(context.Background(), Contribution{
		AgentID: "agent-a",
		Delta:   3,
		Reason:  "published unit",
	})
	if err != nil {
		t.Fatalf("submit contribution: %v", err)
	}
	if event.ID != "evt-1" || event.Status != "pending" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestProposalVoting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/proposals" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Proposal{ID: "prop-1", Status: "open"})
		case r.URL.Path == "/api/v1/proposals/prop-1/votes" && r.Method == http.MethodPost:
			var payload struct {
				VoterID string `json:"voter_id"`
				Approve bool   `json:"approve"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode vote: %v", err)
			}
			if payload.VoterID != "v1" || !payload.Approve {
				t.Fatalf("unexpected vote payload %+v", payload)
			}
			_ = json.NewEncoder(w).Encode(Proposal{
				ID:     "prop-1",
				Status: "open",
				Votes:  []Vote{{VoterID: "v1", Approve: true, Weight: 4}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "key-1", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	proposal, err := client.CreateProposal(ctx, ProposalRequest{
		AgentID:     "agent-a",
		TargetLevel: "gold",
		ProposedBy:  "v1",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	voted, err := client.VoteProposal(ctx, proposal.ID, "v1", true)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if len(voted.Votes) != 1 || voted.Votes[0].Weight != 4 {
		t.Fatalf("unexpected votes %+v", voted.Votes)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":  "REPUTATION_NOT_FOUND",
			"error": "[REPUTATION_NOT_FOUND] reputation record not found",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "key-1", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetReputation(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "REPUTATION_NOT_FOUND" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestRecomputeTrust(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/trust/recompute" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(TrustResult{
			Iterations: 12,
			Converged:  true,
			Agents:     3,
			Digest:     "abc",
			Scores:     map[string]float64{"agent-a": 0.5},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "admin-key", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.RecomputeTrust(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !result.Converged || result.Digest != "abc" {
		t.Fatalf("unexpected result %+v", result)
	}
}
