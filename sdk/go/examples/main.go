package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"SkillMesh-Registry/sdk/go/skillmesh"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contributions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(skillmesh.Event{
			ID:     "evt-demo",
			Status: "pending",
		})
	})
	mux.HandleFunc("/api/v1/contributions/evt-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(skillmesh.Event{
			ID:     "evt-demo",
			Status: "applied",
		})
	})
	mux.HandleFunc("/api/v1/agents/agent-demo/reputation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(skillmesh.Reputation{
			AgentID:       "agent-demo",
			Score:         12.5,
			Contributions: 4,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := skillmesh.NewClient(srv.URL, "demo-key", srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := client.SubmitContribution(ctx, skillmesh.Contribution{
		AgentID: "agent-demo",
		Delta:   3,
		Reason:  "published knowledge unit",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted event %s (status=%s)\n", event.ID, event.Status)

	applied, err := client.GetEvent(ctx, event.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("event %s now %s\n", applied.ID, applied.Status)

	record, err := client.GetReputation(ctx, "agent-demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent %s score=%.1f contributions=%d\n", record.AgentID, record.Score, record.Contributions)
}
