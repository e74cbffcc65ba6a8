package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"family-planner/internal/availability"
	"family-planner/internal/bot"
	"family-planner/internal/calendar"
	"family-planner/internal/config"
	"family-planner/internal/holiday"
	"family-planner/internal/httpapi"
	"family-planner/internal/logger"
	"family-planner/internal/model"
	"family-planner/internal/planner"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(ctx, cfg, zl); err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Fatal("family planner stopped with error", zap.Error(err))
	}
	zap.L().Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	db, err := repository.NewDB(cfg.Database.DSN, zl, cfg.App.Env == "production")
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	familyRepo := repository.NewFamilyRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)
	planRepo := repository.NewPlanRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	eventRepo := repository.NewEventRepository(db)
	tx := repository.NewTransactor(db)

	loc := cfg.Location()
	families := service.NewFamilyService(userRepo, familyRepo, loc)

	holidays := holiday.Table{}
	if cfg.Holidays.File != "" {
		if holidays, err = holiday.Load(cfg.Holidays.File); err != nil {
			return err
		}
	}

	var events calendar.Source = calendar.NewICSSource(
		availabilityRepo, userRepo,
		calendar.NewFetcher(cfg.Calendar.CacheDir, cfg.Calendar.FetchTimeout),
		loc,
	)
	var cached *calendar.CachedSource
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.L().Warn("redis unavailable, calendar cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			cached = calendar.NewCachedSource(events, rdb, cfg.Redis.TTL)
			events = cached
		}
	}

	localCal := calendar.NewLocalCalendar(eventRepo)
	mirror := calendar.NewMirror(localCal, cfg.Mirror.MaxRetries)
	resolver := availability.NewResolver(userRepo, availabilityRepo, holidays, events, loc, cfg.Window())
	validator := schedule.NewValidator(cfg.Schedule.FixedTolerance)

	var proposer planner.Planner
	if cfg.Planner.URL != "" {
		proposer = planner.NewHTTPPlanner(cfg.Planner.URL, cfg.Planner.Timeout)
	}

	taskSvc := service.NewTaskService(taskRepo, instanceRepo, families, mirror)
	planSvc := service.NewPlanService(planRepo, taskRepo, instanceRepo, tx, families, validator, mirror, cfg.Plans.EditResetsApprovals)
	planningSvc := service.NewPlanningService(service.PlanningDeps{
		Tasks:     taskRepo,
		Instances: instanceRepo,
		Plans:     planRepo,
		Tx:        tx,
		Families:  families,
		PlanSvc:   planSvc,
		Resolver:  resolver,
		Validator: validator,
		Planner:   proposer,
		Mirror:    mirror,
	})
	reminderSvc := service.NewReminderService(taskRepo, instanceRepo, planRepo, families)

	var telegramBot *bot.Bot
	if cfg.Telegram.Token != "" {
		telegramBot, err = bot.New(cfg.Telegram.Token, bot.Services{
			Users:    userRepo,
			Tasks:    taskRepo,
			Families: families,
			TaskSvc:  taskSvc,
			Planning: planningSvc,
			Plans:    planSvc,
			Reminder: reminderSvc,
		}, &cfg)
		if err != nil {
			return fmt.Errorf("bot: %w", err)
		}
	}

	scheduler := service.NewSchedulerService(loc)
	if err := scheduleJobs(scheduler, cfg, families, planningSvc, planSvc, telegramBot); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if telegramBot != nil {
		g.Go(func() error { return telegramBot.Start(gctx) })
	}
	if cfg.HTTP.Addr != "" {
		deps := httpapi.Deps{
			Families:     families,
			Tasks:        taskSvc,
			Planning:     planningSvc,
			Plans:        planSvc,
			Calendar:     localCal,
			Availability: availabilityRepo,
			Resolver:     resolver,
		}
		if cached != nil {
			deps.EventCache = cached
		}
		api := httpapi.New(deps)
		g.Go(func() error { return api.Run(gctx, cfg) })
	}

	zap.L().Info("family planner started",
		zap.Bool("bot", telegramBot != nil), zap.String("http", cfg.HTTP.Addr), zap.Bool("planner", proposer != nil))
	<-gctx.Done()
	return g.Wait()
}

func scheduleJobs(scheduler *service.SchedulerService, cfg config.Config, families *service.FamilyService, planning *service.PlanningService, plans *service.PlanService, telegramBot *bot.Bot) error {
	if _, err := scheduler.ScheduleJob("plan expiry", cfg.Plans.ExpirySweep, func(ctx context.Context) error {
		_, err := plans.ExpireStale(ctx, time.Now())
		return err
	}); err != nil {
		return err
	}

	if _, err := scheduler.ScheduleJob("materialization retry", cfg.Plans.RetrySweep, func(ctx context.Context) error {
		_, err := plans.RetryAllMaterializations(ctx)
		return err
	}); err != nil {
		return err
	}

	if cfg.Plans.Generate != "" {
		if _, err := scheduler.ScheduleJob("weekly plans", cfg.Plans.Generate, func(ctx context.Context) error {
			return generateNextWeek(ctx, families, planning, telegramBot)
		}); err != nil {
			return err
		}
	}

	if telegramBot == nil {
		return nil
	}
	report := func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := telegramBot.SendDailyReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Warn("[Scheduler] reports", zap.Error(err))
		}
	}
	if cfg.Telegram.ReportAt != "" {
		if _, err := scheduler.ScheduleDaily(cfg.Telegram.ReportAt, report); err != nil {
			return fmt.Errorf("schedule morning report: %w", err)
		}
	}
	if _, err := scheduler.ScheduleInterval(cfg.Telegram.ReportInterval, report); err != nil {
		return fmt.Errorf("schedule reports: %w", err)
	}
	return nil
}

// generateNextWeek drafts next week's plan for every family that has
// none yet and announces new drafts in the bot.
func generateNextWeek(ctx context.Context, families *service.FamilyService, planning *service.PlanningService, telegramBot *bot.Bot) error {
	list, err := families.ListFamilies(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	var errs []error
	for _, family := range list {
		generated, err := planning.GenerateWeeklyPlan(ctx, family.ID, model.WeekStart(now).AddDate(0, 0, 7), 0, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("family %d: %w", family.ID, err))
			continue
		}
		if generated.Existing || telegramBot == nil {
			continue
		}
		if err := telegramBot.NotifyPlan(ctx, generated.Plan); err != nil {
			zap.L().Warn("[Scheduler] notify plan", zap.Uint("plan_id", generated.Plan.ID), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}
