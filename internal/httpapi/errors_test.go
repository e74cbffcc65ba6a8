package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"family-planner/internal/calendar"
	"family-planner/internal/plan"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load task: %w", gorm.ErrRecordNotFound), http.StatusNotFound},
		{repository.ErrVersionConflict, http.StatusConflict},
		{fmt.Errorf("plan 1: %w", plan.ErrPlanClosed), http.StatusConflict},
		{service.ErrPlanExists, http.StatusConflict},
		{&schedule.RejectionError{Rejection: schedule.Rejection{Reason: schedule.ReasonWrongWeekday}}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: range", schedule.ErrInvalidInterval), http.StatusUnprocessableEntity},
		{plan.ErrInvalidDecision, http.StatusUnprocessableEntity},
		{service.ErrInvalidInput, http.StatusUnprocessableEntity},
		{plan.ErrNotMember, http.StatusForbidden},
		{service.ErrNoFamily, http.StatusForbidden},
		{fmt.Errorf("%w: create event: boom", calendar.ErrUpstreamUnavailable), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}
