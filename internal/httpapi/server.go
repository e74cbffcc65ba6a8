package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"family-planner/internal/availability"
	"family-planner/internal/calendar"
	"family-planner/internal/config"
	"family-planner/internal/repository"
	"family-planner/internal/service"
)

// Deps are the services the API exposes.
type Deps struct {
	Families *service.FamilyService
	Tasks    *service.TaskService
	Planning *service.PlanningService
	Plans    *service.PlanService
	Calendar *calendar.LocalCalendar

	Availability *repository.AvailabilityRepository
	Resolver     *availability.Resolver
	// EventCache is optional; nil skips invalidation.
	EventCache eventCache
}

// Server is the JSON API used by the planner collaborator and by UIs that
// move plan items around.
type Server struct {
	families *service.FamilyService
	tasks    *service.TaskService
	planning *service.PlanningService
	plans    *service.PlanService
	calendar *calendar.LocalCalendar

	availability *repository.AvailabilityRepository
	resolver     *availability.Resolver
	eventCache   eventCache

	now func() time.Time
}

func New(d Deps) *Server {
	return &Server{
		families: d.Families,
		tasks:    d.Tasks,
		planning: d.Planning,
		plans:    d.Plans,
		calendar: d.Calendar,

		availability: d.Availability,
		resolver:     d.Resolver,
		eventCache:   d.EventCache,

		now: time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router(limit rate.Limit, burst int) *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestLog(), rateLimiter(limit, burst))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/", s.actor())

	api.POST("/families", s.createFamily)
	api.POST("/families/:id/join", s.joinFamily)
	api.GET("/families/:id/members", s.listMembers)
	api.POST("/families/:id/plans", s.generatePlan)

	api.GET("/me/availability", s.getAvailability)
	api.PUT("/me/workdays/:weekday", s.saveWorkDay)
	api.POST("/me/vacations", s.addVacation)
	api.POST("/me/subscriptions", s.addSubscription)

	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/:id", s.getTask)
	api.DELETE("/tasks/:id", s.deleteTask)
	api.GET("/tasks/:id/slots", s.findSlots)
	api.POST("/tasks/:id/schedule", s.quickSchedule)

	api.POST("/placements", s.commitPlacements)

	api.GET("/instances", s.listInstances)
	api.POST("/instances/:id/complete", s.completeInstance)
	api.POST("/instances/:id/skip", s.skipInstance)
	api.DELETE("/instances/:id", s.deleteInstance)

	api.GET("/plans", s.listPlans)
	api.POST("/plans", s.createPlan)
	api.GET("/plans/:id", s.getPlan)
	api.POST("/plans/:id/submit", s.submitPlan)
	api.POST("/plans/:id/decision", s.decidePlan)
	api.POST("/plans/:id/items", s.addItem)
	api.PATCH("/plan-items/:id", s.editItem)
	api.DELETE("/plan-items/:id", s.removeItem)

	api.GET("/users/:id/calendar.ics", s.exportCalendar)

	return r
}

// Run serves the API on cfg.HTTP.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, cfg config.Config) error {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.Router(rate.Limit(cfg.HTTP.RateLimit), cfg.HTTP.Burst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("[HTTP] listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
