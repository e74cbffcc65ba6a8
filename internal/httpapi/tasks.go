package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"family-planner/internal/model"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

func (s *Server) createFamily(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	user, err := s.families.User(ctx, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	family, err := s.families.CreateFamily(ctx, user, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, family)
}

func (s *Server) joinFamily(c *gin.Context) {
	familyID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.families.Join(c.Request.Context(), familyID, actorID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMembers(c *gin.Context) {
	familyID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	actor, err := s.families.Actor(ctx, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if actor.FamilyID == nil || *actor.FamilyID != familyID {
		writeError(c, fmt.Errorf("family %d: %w", familyID, service.ErrForbidden))
		return
	}
	members, err := s.families.Members(ctx, familyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTask(c *gin.Context) {
	var input service.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	user, err := s.families.User(ctx, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	task, err := s.tasks.CreateTask(ctx, user, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	taskID, ok := paramID(c, "id")
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(c.Request.Context(), actorID(c), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	taskID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.tasks.DeleteTask(c.Request.Context(), actorID(c), taskID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// dateRange reads the inclusive ?from=&to= dates in the actor's zone,
// defaulting to the next seven days.
func (s *Server) dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	loc, err := s.families.Location(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, err)
		return time.Time{}, time.Time{}, false
	}
	from := model.StartOfDay(s.now().In(loc))
	to := from.AddDate(0, 0, 6)
	if raw := c.Query("from"); raw != "" {
		if from, err = model.ParseDate(raw, loc); err != nil {
			badRequest(c, err)
			return time.Time{}, time.Time{}, false
		}
		to = from.AddDate(0, 0, 6)
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = model.ParseDate(raw, loc); err != nil {
			badRequest(c, err)
			return time.Time{}, time.Time{}, false
		}
	}
	return from, to, true
}

func (s *Server) findSlots(c *gin.Context) {
	taskID, ok := paramID(c, "id")
	if !ok {
		return
	}
	from, to, ok := s.dateRange(c)
	if !ok {
		return
	}
	report, err := s.planning.FindSlots(c.Request.Context(), actorID(c), taskID, from, to, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) quickSchedule(c *gin.Context) {
	taskID, ok := paramID(c, "id")
	if !ok {
		return
	}
	from, to, ok := s.dateRange(c)
	if !ok {
		return
	}
	res, err := s.planning.QuickSchedule(c.Request.Context(), actorID(c), taskID, from, to, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) commitPlacements(c *gin.Context) {
	var req struct {
		Placements []schedule.Placement `json:"placements" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.planning.CommitPlacements(c.Request.Context(), actorID(c), req.Placements, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if len(res.Instances) == 0 && len(res.Rejected) > 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (s *Server) listInstances(c *gin.Context) {
	from, to, ok := s.dateRange(c)
	if !ok {
		return
	}
	instances, err := s.tasks.ListInstances(c.Request.Context(), actorID(c), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (s *Server) completeInstance(c *gin.Context) {
	s.transitionInstance(c, s.tasks.CompleteInstance)
}

func (s *Server) skipInstance(c *gin.Context) {
	s.transitionInstance(c, s.tasks.SkipInstance)
}

type instanceTransition func(ctx context.Context, userID, instanceID uint, at time.Time) (*model.ScheduledTaskInstance, error)

func (s *Server) transitionInstance(c *gin.Context, fn instanceTransition) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	inst, err := fn(c.Request.Context(), actorID(c), id, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) deleteInstance(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.tasks.DeleteInstance(c.Request.Context(), actorID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) exportCalendar(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	actor, err := s.families.Actor(ctx, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != actor.UserID && !containsID(actor.MemberIDs, userID) {
		writeError(c, fmt.Errorf("calendar of user %d: %w", userID, service.ErrForbidden))
		return
	}
	user, err := s.families.User(ctx, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := s.calendar.ExportICS(ctx, userID, user.Name, s.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
