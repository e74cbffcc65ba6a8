package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"family-planner/internal/model"
	"family-planner/internal/service"
)

// eventCache drops a user's cached third-party events after their
// subscriptions change.
type eventCache interface {
	Invalidate(ctx context.Context, userID uint) error
}

func (s *Server) getAvailability(c *gin.Context) {
	from, to, ok := s.dateRange(c)
	if !ok {
		return
	}
	res, err := s.resolver.Resolve(c.Request.Context(), actorID(c), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  res.UserID,
		"timezone": res.Location.String(),
		"window":   gin.H{"earliest": res.Window.Earliest, "latest": res.Window.Latest},
		"blocks":   res.Blocks,
		"warnings": res.Warnings,
	})
}

func (s *Server) saveWorkDay(c *gin.Context) {
	weekday, err := model.ParseWeekday(c.Param("weekday"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var req struct {
		IsWorking          bool               `json:"is_working"`
		Start              *model.ClockTime   `json:"start"`
		End                *model.ClockTime   `json:"end"`
		Location           model.WorkLocation `json:"location"`
		CommuteToMinutes   *int               `json:"commute_to_minutes"`
		CommuteFromMinutes *int               `json:"commute_from_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	day := model.WorkDay{
		UserID:             actorID(c),
		Weekday:            weekday,
		IsWorking:          req.IsWorking,
		Location:           req.Location,
		CommuteToMinutes:   req.CommuteToMinutes,
		CommuteFromMinutes: req.CommuteFromMinutes,
	}
	if day.Location == "" {
		day.Location = model.LocationHome
	}
	if day.Location != model.LocationHome && day.Location != model.LocationOffice {
		writeError(c, fmt.Errorf("%w: location must be %q or %q", service.ErrInvalidInput, model.LocationHome, model.LocationOffice))
		return
	}
	if req.IsWorking {
		if req.Start == nil || req.End == nil || *req.End <= *req.Start {
			writeError(c, fmt.Errorf("%w: a working day needs start before end", service.ErrInvalidInput))
			return
		}
		day.StartTime, day.EndTime = *req.Start, *req.End
	}
	for _, m := range []*int{req.CommuteToMinutes, req.CommuteFromMinutes} {
		if m != nil && (*m < 0 || *m > 240) {
			writeError(c, fmt.Errorf("%w: commute must be between 0 and 240 minutes", service.ErrInvalidInput))
			return
		}
	}

	if err := s.availability.SaveWorkDay(c.Request.Context(), &day); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (s *Server) addVacation(c *gin.Context) {
	var req struct {
		StartDate string `json:"start_date" binding:"required"`
		EndDate   string `json:"end_date" binding:"required"`
		Note      string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, err := model.ParseDate(req.StartDate, time.UTC)
	if err != nil {
		badRequest(c, err)
		return
	}
	end, err := model.ParseDate(req.EndDate, time.UTC)
	if err != nil {
		badRequest(c, err)
		return
	}
	if end.Before(start) {
		writeError(c, fmt.Errorf("%w: vacation ends %s before it starts %s", service.ErrInvalidInput, req.EndDate, req.StartDate))
		return
	}

	v := model.Vacation{
		UserID:    actorID(c),
		StartDate: model.DateKey(start),
		EndDate:   model.DateKey(end),
		Note:      strings.TrimSpace(req.Note),
	}
	if err := s.availability.AddVacation(c.Request.Context(), &v); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) addSubscription(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	url := strings.TrimSpace(req.URL)
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		writeError(c, fmt.Errorf("%w: calendar url must be http or https", service.ErrInvalidInput))
		return
	}

	ctx := c.Request.Context()
	sub := model.CalendarSubscription{UserID: actorID(c), Name: strings.TrimSpace(req.Name), URL: url}
	if err := s.availability.AddSubscription(ctx, &sub); err != nil {
		writeError(c, err)
		return
	}
	if s.eventCache != nil {
		if err := s.eventCache.Invalidate(ctx, sub.UserID); err != nil {
			zap.L().Warn("[HTTP] calendar cache not invalidated", zap.Uint("user_id", sub.UserID), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, sub)
}
