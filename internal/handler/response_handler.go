package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

type snoozePayload struct {
	ReminderType  string `json:"reminder_type"`
	ReminderKey   string `json:"reminder_key"`
	ScheduledTime string `json:"scheduled_time"`
	SnoozedAt     string `json:"snoozed_at"`
	SnoozeMinutes uint   `json:"snooze_minutes"`
}

// RecordSnooze 处理 POST /snooze：追加审计日志，可携带提醒主键顺带推迟该提醒
func (a *API) RecordSnooze(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload snoozePayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	input := service.SnoozeLogInput{
		UserID:        userID,
		ReminderType:  payload.ReminderType,
		ReminderKey:   payload.ReminderKey,
		ScheduledTime: payload.ScheduledTime,
		SnoozeMinutes: payload.SnoozeMinutes,
	}

	if raw := strings.TrimSpace(payload.SnoozedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "snoozed_at 需为 RFC3339 时间")
			return
		}
		input.SnoozedAt = parsed
	}

	entry, err := a.responses.RecordSnoozeLog(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err, "记录稍后提醒失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": snoozeLogToPayload(entry)})
}

// SnoozeStats 处理 GET /snooze/stats?days=N
func (a *API) SnoozeStats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	days := 7
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "days 需为正整数")
			return
		}
		days = parsed
	}

	stats, err := a.responses.Stats(userID, days)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "统计稍后提醒失败")
		return
	}

	c.JSON(http.StatusOK, stats)
}

type notificationPayload struct {
	ReminderID    *uint  `json:"reminder_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	ScheduledTime string `json:"scheduled_time"`
}

// CreateNotification 预登记一次触发的通知记录
func (a *API) CreateNotification(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload notificationPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	scheduledTime, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.ScheduledTime))
	if err != nil {
		respondError(c, http.StatusBadRequest, "scheduled_time 需为 RFC3339 时间")
		return
	}

	notification, err := a.notifications.Create(service.NotificationInput{
		UserID:        userID,
		ReminderID:    payload.ReminderID,
		Type:          payload.Type,
		Title:         payload.Title,
		Body:          payload.Body,
		ScheduledTime: scheduledTime,
	})
	if err != nil {
		respondServiceError(c, err, "创建通知失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": notificationToPayload(notification)})
}

// MarkNotificationDelivered 把通知推进到 delivered
func (a *API) MarkNotificationDelivered(c *gin.Context) {
	a.transitionNotification(c, func(id uint) (*db.Notification, error) {
		return a.notifications.MarkDelivered(id)
	})
}

// MarkNotificationOpened 记录打开时间戳
func (a *API) MarkNotificationOpened(c *gin.Context) {
	a.transitionNotification(c, func(id uint) (*db.Notification, error) {
		return a.notifications.MarkOpened(id)
	})
}

// CompleteNotification 完成通知并清零所属提醒的漏掉计数
func (a *API) CompleteNotification(c *gin.Context) {
	a.transitionNotification(c, func(id uint) (*db.Notification, error) {
		return a.responses.Complete(c.Request.Context(), id)
	})
}

// MissNotification 标记通知漏掉并触发自适应调频
func (a *API) MissNotification(c *gin.Context) {
	a.transitionNotification(c, func(id uint) (*db.Notification, error) {
		return a.responses.MarkMissed(c.Request.Context(), id)
	})
}

func (a *API) transitionNotification(c *gin.Context, apply func(uint) (*db.Notification, error)) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := a.notifications.Get(id)
	if err != nil {
		respondServiceError(c, err, "获取通知失败")
		return
	}
	if existing.UserID != userID {
		respondError(c, http.StatusNotFound, service.ErrNotificationNotFound.Error())
		return
	}

	notification, err := apply(id)
	if err != nil {
		respondServiceError(c, err, "更新通知状态失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": notificationToPayload(notification)})
}

func snoozeLogToPayload(entry *db.SnoozeLog) gin.H {
	payload := gin.H{
		"id":             entry.ID,
		"reminder_type":  entry.ReminderType,
		"snoozed_at":     entry.SnoozedAt.Format(time.RFC3339),
		"snooze_minutes": entry.SnoozeMinutes,
	}
	if entry.ReminderKey != "" {
		payload["reminder_key"] = entry.ReminderKey
	}
	if entry.ScheduledTime != "" {
		payload["scheduled_time"] = entry.ScheduledTime
	}
	return payload
}

func notificationToPayload(n *db.Notification) gin.H {
	payload := gin.H{
		"id":             n.ID,
		"type":           n.Type,
		"title":          n.Title,
		"body":           n.Body,
		"scheduled_time": n.ScheduledTime.Format(time.RFC3339),
		"status":         n.Status,
		"overdue":        service.IsOverdue(n, time.Now()),
	}
	if n.ReminderID != nil {
		payload["reminder_id"] = *n.ReminderID
	}
	if n.OpenedAt != nil {
		payload["opened_at"] = n.OpenedAt.Format(time.RFC3339)
	}
	if n.ActionedAt != nil {
		payload["actioned_at"] = n.ActionedAt.Format(time.RFC3339)
	}
	if n.CompletedAt != nil {
		payload["completed_at"] = n.CompletedAt.Format(time.RFC3339)
	}
	if n.MissedAt != nil {
		payload["missed_at"] = n.MissedAt.Format(time.RFC3339)
	}
	if n.ErrorMessage != "" {
		payload["error_message"] = n.ErrorMessage
	}
	return payload
}
