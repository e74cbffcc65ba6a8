// Package planner is the client of the external service that proposes
// weekly schedules. Its answers are untrusted until validated.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"family-planner/internal/model"
	"family-planner/internal/schedule"
)

// ErrUpstreamUnavailable is returned when the planner service cannot give
// a usable answer.
var ErrUpstreamUnavailable = errors.New("planner upstream unavailable")

type TaskContext struct {
	ID              uint                 `json:"id"`
	Title           string               `json:"title"`
	Kind            model.TaskKind       `json:"kind"`
	OwnerID         uint                 `json:"owner_id"`
	DurationMinutes int                  `json:"duration_minutes"`
	Priority        int                  `json:"priority"`
	Mode            model.SchedulingMode `json:"mode"`
	Weekdays        model.WeekdaySet     `json:"weekdays,omitempty"`
	TimeOfDay       *model.ClockTime     `json:"time_of_day,omitempty"`
	Frequency       int                  `json:"frequency,omitempty"`
	Period          string               `json:"period,omitempty"`
	// Remaining is how many more placements the week can take.
	Remaining int      `json:"remaining"`
	Dates     []string `json:"dates"`
}

type Member struct {
	ID       uint                `json:"id"`
	Name     string              `json:"name"`
	Timezone string              `json:"timezone"`
	Busy     []schedule.Interval `json:"busy"`
}

// Request is the planning context sent to the service.
type Request struct {
	FamilyID  uint          `json:"family_id"`
	WeekStart string        `json:"week_start"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Now       time.Time     `json:"now"`
	Tasks     []TaskContext `json:"tasks"`
	Members   []Member      `json:"members"`
}

// Proposal is a candidate batch plus the service's explanation.
type Proposal struct {
	Placements []schedule.Placement `json:"placements"`
	Reasoning  string               `json:"reasoning"`
}

type Planner interface {
	Propose(ctx context.Context, req Request) (Proposal, error)
}

// HTTPPlanner posts the request as JSON to {url}/plan.
type HTTPPlanner struct {
	client *resty.Client
}

func NewHTTPPlanner(url string, timeout time.Duration) *HTTPPlanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	return &HTTPPlanner{client: client}
}

type errorBody struct {
	Error string `json:"error"`
}

func (p *HTTPPlanner) Propose(ctx context.Context, req Request) (Proposal, error) {
	var (
		out  Proposal
		fail errorBody
	)
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&fail).
		Post("/plan")
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		zap.L().Warn("[Planner] service refused", zap.Int("status", resp.StatusCode()), zap.String("error", fail.Error))
		return Proposal{}, fmt.Errorf("%w: status %d %s", ErrUpstreamUnavailable, resp.StatusCode(), fail.Error)
	}
	zap.L().Info("[Planner] proposal received", zap.Uint("family_id", req.FamilyID), zap.Int("placements", len(out.Placements)))
	return out, nil
}
