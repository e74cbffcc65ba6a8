package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"family-planner/internal/model"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

// weekParam reads a YYYY-MM-DD week start in the actor's zone and snaps
// it to Monday. An empty value means next week.
func (s *Server) weekParam(c *gin.Context, raw string) (time.Time, bool) {
	loc, err := s.families.Location(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, err)
		return time.Time{}, false
	}
	if raw == "" {
		return model.WeekStart(s.now().In(loc)).AddDate(0, 0, 7), true
	}
	day, err := model.ParseDate(raw, loc)
	if err != nil {
		badRequest(c, err)
		return time.Time{}, false
	}
	return model.WeekStart(day), true
}

func (s *Server) generatePlan(c *gin.Context) {
	familyID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		WeekStart string `json:"week_start"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	week, ok := s.weekParam(c, req.WeekStart)
	if !ok {
		return
	}
	generated, err := s.planning.GenerateWeeklyPlan(c.Request.Context(), familyID, week, actorID(c), s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if generated.Existing {
		status = http.StatusOK
	}
	c.JSON(status, generated)
}

func (s *Server) createPlan(c *gin.Context) {
	var req struct {
		WeekStart  string               `json:"week_start"`
		Reasoning  string               `json:"reasoning"`
		Placements []schedule.Placement `json:"placements"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	week, ok := s.weekParam(c, req.WeekStart)
	if !ok {
		return
	}
	p, rejected, err := s.plans.Create(c.Request.Context(), actorID(c), week, req.Placements, req.Reasoning, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": p, "rejected": rejected})
}

func (s *Server) listPlans(c *gin.Context) {
	plans, err := s.plans.ListOpen(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (s *Server) getPlan(c *gin.Context) {
	planID, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := s.plans.Get(c.Request.Context(), actorID(c), planID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) submitPlan(c *gin.Context) {
	planID, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := s.plans.Submit(c.Request.Context(), actorID(c), planID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) decidePlan(c *gin.Context) {
	planID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Decision model.ApprovalStatus `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.plans.Decide(c.Request.Context(), actorID(c), planID, req.Decision, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":      res.Plan,
		"previous":  res.Outcome.Previous,
		"status":    res.Outcome.Status,
		"instances": res.Instances,
		"warnings":  res.Warnings,
	})
}

func (s *Server) addItem(c *gin.Context) {
	planID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var p schedule.Placement
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	item, err := s.plans.AddItem(c.Request.Context(), actorID(c), planID, p, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) editItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ExpectedVersion int `json:"expected_version" binding:"required,min=1"`
		service.ItemEdit
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := s.plans.EditItem(c.Request.Context(), actorID(c), itemID, req.ExpectedVersion, req.ItemEdit, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) removeItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ExpectedVersion int `json:"expected_version" form:"expected_version" binding:"required,min=1"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.plans.RemoveItem(c.Request.Context(), actorID(c), itemID, req.ExpectedVersion); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
