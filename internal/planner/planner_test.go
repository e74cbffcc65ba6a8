package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-planner/internal/schedule"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestProposeDecodesPlacements(t *testing.T) {
	start := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plan" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FamilyID != 3 {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Proposal{
			Placements: []schedule.Placement{{TaskID: 1, AssigneeID: 2, Start: start, End: start.Add(time.Hour), Reasoning: "evening is free"}},
			Reasoning:  "spread chores",
		})
	}))
	defer srv.Close()

	got, err := NewHTTPPlanner(srv.URL, time.Second).Propose(context.Background(), Request{FamilyID: 3})
	require.NoError(t, err)
	require.Equal(t, "spread chores", got.Reasoning)
	require.Len(t, got.Placements, 1)
	require.True(t, got.Placements[0].Start.Equal(start))
}

func TestProposeMapsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPPlanner(srv.URL, time.Second).Propose(context.Background(), Request{})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.Contains(t, err.Error(), "model overloaded")
}
