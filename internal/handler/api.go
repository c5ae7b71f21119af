package handler

import (
	"github.com/carelog/internal/service"
	"github.com/carelog/internal/sink"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	reminders     *service.ReminderService
	scheduler     *service.SchedulerService
	responses     *service.ResponseService
	notifications *service.NotificationService
	timeline      *service.TimelineService
	events        *service.EventLogService
	insights      *service.InsightService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB, snk sink.Sink) *API {
	scheduler := service.NewSchedulerService(db, snk)
	notifications := service.NewNotificationService(db)
	responses := service.NewResponseService(db, scheduler, notifications)

	return &API{
		db:            db,
		reminders:     service.NewReminderService(db, scheduler),
		scheduler:     scheduler,
		responses:     responses,
		notifications: notifications,
		timeline:      service.NewTimelineService(db, scheduler, notifications),
		events:        service.NewEventLogService(db),
		insights:      service.NewInsightService(db),
	}
}

// Scheduler exposes the trigger scheduler for process wiring (sweeper, firing loop).
func (a *API) Scheduler() *service.SchedulerService {
	return a.scheduler
}

// Notifications exposes the notification service for process wiring.
func (a *API) Notifications() *service.NotificationService {
	return a.notifications
}

// Responses exposes the response recorder for process wiring.
func (a *API) Responses() *service.ResponseService {
	return a.responses
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
