package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

type reminderPayload struct {
	Kind            string `json:"kind"`
	Title           string `json:"title"`
	Note            string `json:"note"`
	ScheduledAt     string `json:"scheduled_at"`
	IntervalMinutes *uint  `json:"interval_minutes"`
	Metadata        string `json:"metadata"`
}

// ListReminders 返回当前用户的提醒列表 JSON
func (a *API) ListReminders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	filter := service.ReminderFilter{
		UserID: userID,
		Kind:   c.Query("kind"),
		Search: c.Query("search"),
	}
	if raw := strings.TrimSpace(c.Query("enabled")); raw != "" {
		enabled := raw == "true" || raw == "1"
		filter.Enabled = &enabled
	}

	reminders, err := a.reminders.List(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取提醒列表失败")
		return
	}

	items := make([]gin.H, 0, len(reminders))
	for i := range reminders {
		items = append(items, a.reminderToPayload(&reminders[i]))
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// GetReminder 返回单条提醒及其下一次触发投影
func (a *API) GetReminder(c *gin.Context) {
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

	reminder, err := a.reminders.GetOwned(id, userID)
	if err != nil {
		respondServiceError(c, err, "获取提醒失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": a.reminderToPayload(reminder)})
}

// CreateReminder 新建提醒并安装触发器
func (a *API) CreateReminder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var payload reminderPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	input, err := payloadToReminderInput(userID, payload)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	reminder, err := a.reminders.Create(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err, "创建提醒失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": a.reminderToPayload(reminder)})
}

// UpdateReminder 更新提醒定义并重排触发器
func (a *API) UpdateReminder(c *gin.Context) {
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

	if _, err := a.reminders.GetOwned(id, userID); err != nil {
		respondServiceError(c, err, "获取提醒失败")
		return
	}

	var payload reminderPayload
	if !bindJSON(c, &payload, "请求体格式不正确") {
		return
	}

	input, err := payloadToReminderInput(userID, payload)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	reminder, err := a.reminders.Update(c.Request.Context(), id, input)
	if err != nil {
		respondServiceError(c, err, "更新提醒失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": a.reminderToPayload(reminder)})
}

// DisableReminder 停用提醒并清理触发器
func (a *API) DisableReminder(c *gin.Context) {
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

	if _, err := a.reminders.GetOwned(id, userID); err != nil {
		respondServiceError(c, err, "获取提醒失败")
		return
	}

	reminder, err := a.reminders.Disable(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "停用提醒失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": a.reminderToPayload(reminder)})
}

func payloadToReminderInput(userID uint, payload reminderPayload) (service.ReminderInput, error) {
	input := service.ReminderInput{
		UserID:          userID,
		Kind:            payload.Kind,
		Title:           payload.Title,
		Note:            payload.Note,
		IntervalMinutes: payload.IntervalMinutes,
		Metadata:        payload.Metadata,
	}

	if raw := strings.TrimSpace(payload.ScheduledAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return input, service.ErrReminderInvalid
		}
		input.ScheduledAt = &parsed
	}

	return input, nil
}

func (a *API) reminderToPayload(reminder *db.Reminder) gin.H {
	payload := gin.H{
		"id":           reminder.ID,
		"kind":         reminder.Kind,
		"title":        reminder.Title,
		"note":         reminder.Note,
		"enabled":      reminder.Enabled,
		"missed_count": reminder.MissedCount,
		"metadata":     reminder.Metadata,
	}

	if reminder.ScheduledAt != nil {
		payload["scheduled_at"] = reminder.ScheduledAt.Format(time.RFC3339)
	}
	if reminder.IntervalMinutes != nil {
		payload["interval_minutes"] = *reminder.IntervalMinutes
	}
	if reminder.SnoozeUntil != nil {
		payload["snooze_until"] = reminder.SnoozeUntil.Format(time.RFC3339)
	}

	if fireAt, ok := a.scheduler.NextFireTime(reminder, time.Now()); ok {
		payload["next_fire_at"] = fireAt.Format(time.RFC3339)
	}

	return payload
}
