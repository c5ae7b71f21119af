package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/carelog/internal/db"
	"github.com/carelog/internal/handler"
	"github.com/carelog/internal/router"
	"github.com/carelog/internal/sink"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type e2eSuite struct {
	handler http.Handler
	client  *localClient
	baseURL string
	mem     *sink.Memory
	user    db.User
}

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler) *localClient {
	jar, _ := cookiejar.New(nil)
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	if c.jar != nil {
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}
	return resp, nil
}

func TestE2E_ReminderFlow(t *testing.T) {
	suite := newE2ESuite(t)
	suite.login(t)

	t.Run("reminder lifecycle", suite.testReminderLifecycle)
	t.Run("snooze and stats", suite.testSnoozeAndStats)
	t.Run("notifications and timeline", suite.testNotificationsAndTimeline)
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.User{},
		&db.Reminder{},
		&db.TriggerMapping{},
		&db.Notification{},
		&db.SnoozeLog{},
		&db.HydrationLog{},
		&db.MedicationLog{},
		&db.Insight{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	db.DB = gdb

	hashed, err := bcrypt.GenerateFromPassword([]byte("e2e-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := db.User{Username: "carer", PasswordHash: string(hashed)}
	if err := db.DB.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	mem := sink.NewMemory()
	api := handler.NewAPI(gdb, mem)
	engine := router.SetupRouter(api, "test-session-secret")

	return &e2eSuite{
		handler: engine,
		client:  newLocalClient(engine),
		baseURL: "http://example.test",
		mem:     mem,
		user:    user,
	}
}

func (s *e2eSuite) login(t *testing.T) {
	t.Helper()
	resp := s.postJSON(t, "/auth/login", map[string]any{
		"username": "carer",
		"password": "e2e-secret",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %d", resp.StatusCode)
	}
}

func (s *e2eSuite) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (s *e2eSuite) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeDataObject(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode %q: %v", string(raw), err)
	}
	return payload.Data
}

func (s *e2eSuite) testReminderLifecycle(t *testing.T) {
	resp := s.postJSON(t, "/api/reminders", map[string]any{
		"kind":             "medication",
		"title":            "早饭后吃降压药",
		"note":             "**两片**，温水送服",
		"interval_minutes": 120,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reminder failed: %d", resp.StatusCode)
	}
	created := decodeDataObject(t, resp)
	if created["next_fire_at"] == nil {
		t.Fatal("expected trigger projection on created reminder")
	}
	reminderID := int(created["id"].(float64))

	if got := s.mem.LiveCount(); got != 1 {
		t.Fatalf("expected one live trigger after create, got %d", got)
	}

	// 停用后触发器应被回收
	req, _ := http.NewRequest(http.MethodDelete, s.baseURL+"/api/reminders/"+strconv.Itoa(reminderID), nil)
	delResp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("disable request failed: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("disable reminder failed: %d", delResp.StatusCode)
	}
	if got := s.mem.LiveCount(); got != 0 {
		t.Fatalf("expected trigger cleared after disable, got %d", got)
	}
}

func (s *e2eSuite) testSnoozeAndStats(t *testing.T) {
	resp := s.postJSON(t, "/api/reminders", map[string]any{
		"kind":             "water",
		"title":            "喝水",
		"interval_minutes": 45,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reminder failed: %d", resp.StatusCode)
	}
	created := decodeDataObject(t, resp)
	reminderID := int(created["id"].(float64))

	// 携带提醒主键的稍后提醒会顺带推迟投递
	snoozeResp := s.postJSON(t, "/snooze", map[string]any{
		"reminder_key":   strconv.Itoa(reminderID),
		"snooze_minutes": 20,
	})
	if snoozeResp.StatusCode != http.StatusCreated {
		t.Fatalf("snooze failed: %d", snoozeResp.StatusCode)
	}
	entry := decodeDataObject(t, snoozeResp)
	if entry["reminder_type"] != "water" {
		t.Fatalf("snooze log should inherit reminder kind, got %v", entry["reminder_type"])
	}

	var reminder db.Reminder
	if err := db.DB.First(&reminder, reminderID).Error; err != nil {
		t.Fatalf("failed to reload reminder: %v", err)
	}
	if reminder.SnoozeUntil == nil {
		t.Fatal("expected snooze_until set after snooze")
	}
	wantGap := reminder.SnoozeUntil.Sub(time.Now())
	if wantGap < 18*time.Minute || wantGap > 21*time.Minute {
		t.Fatalf("snooze_until should land about 20 minutes out, got %s", wantGap)
	}

	statsResp := s.get(t, "/snooze/stats?days=1")
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("stats failed: %d", statsResp.StatusCode)
	}
	var stats struct {
		Total int64 `json:"total"`
	}
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected one snooze recorded, got %d", stats.Total)
	}
}

func (s *e2eSuite) testNotificationsAndTimeline(t *testing.T) {
	scheduled := time.Now().Add(-5 * time.Minute).UTC()
	resp := s.postJSON(t, "/api/notifications", map[string]any{
		"type":           "medication",
		"title":          "吃药提醒",
		"scheduled_time": scheduled.Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create notification failed: %d", resp.StatusCode)
	}
	created := decodeDataObject(t, resp)
	notificationID := int(created["id"].(float64))

	for _, step := range []string{"delivered", "complete"} {
		path := fmt.Sprintf("/api/notifications/%d/%s", notificationID, step)
		stepResp := s.postJSON(t, path, map[string]any{})
		stepResp.Body.Close()
		if stepResp.StatusCode != http.StatusOK {
			t.Fatalf("transition %s failed: %d", step, stepResp.StatusCode)
		}
	}

	hydrationResp := s.postJSON(t, "/api/hydration", map[string]any{"amount_ml": 300})
	hydrationResp.Body.Close()
	if hydrationResp.StatusCode != http.StatusCreated {
		t.Fatalf("log hydration failed: %d", hydrationResp.StatusCode)
	}

	timelineResp := s.get(t, "/notifications/today-timeline")
	defer timelineResp.Body.Close()
	if timelineResp.StatusCode != http.StatusOK {
		t.Fatalf("timeline failed: %d", timelineResp.StatusCode)
	}
	var payload struct {
		Data []struct {
			Time   string `json:"time"`
			Status string `json:"status"`
			Type   string `json:"type"`
		} `json:"data"`
	}
	if err := json.NewDecoder(timelineResp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode timeline: %v", err)
	}
	if len(payload.Data) < 2 {
		t.Fatalf("expected notification and hydration entries, got %d", len(payload.Data))
	}

	var sawCompleted bool
	last := time.Time{}
	for _, item := range payload.Data {
		at, err := time.Parse(time.RFC3339, item.Time)
		if err != nil {
			t.Fatalf("timeline time must be RFC3339, got %q", item.Time)
		}
		if at.Before(last) {
			t.Fatal("timeline must be sorted by time ascending")
		}
		last = at
		if item.Status == "completed" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("expected at least one completed timeline entry")
	}
}
