package router

import (
	"github.com/carelog/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("carelog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.POST("/auth/login", handler.Login)
	r.GET("/auth/logout", handler.Logout)

	// 需要认证的路由
	auth := r.Group("")
	auth.Use(handler.AuthRequired())
	{
		auth.POST("/snooze", api.RecordSnooze)
		auth.GET("/snooze/stats", api.SnoozeStats)
		auth.GET("/notifications/today-timeline", api.TodayTimeline)

		auth.GET("/insights", api.ListInsights)
		auth.POST("/insights", api.CreateInsight)

		// API路由
		apiGroup := auth.Group("/api")
		{
			apiGroup.GET("/reminders", api.ListReminders)
			apiGroup.GET("/reminders/:id", api.GetReminder)
			apiGroup.POST("/reminders", api.CreateReminder)
			apiGroup.PUT("/reminders/:id", api.UpdateReminder)
			apiGroup.DELETE("/reminders/:id", api.DisableReminder)

			apiGroup.POST("/notifications", api.CreateNotification)
			apiGroup.POST("/notifications/:id/delivered", api.MarkNotificationDelivered)
			apiGroup.POST("/notifications/:id/opened", api.MarkNotificationOpened)
			apiGroup.POST("/notifications/:id/complete", api.CompleteNotification)
			apiGroup.POST("/notifications/:id/missed", api.MissNotification)

			apiGroup.POST("/hydration", api.LogHydration)
			apiGroup.GET("/hydration", api.ListHydration)
			apiGroup.POST("/medications", api.LogMedication)
			apiGroup.GET("/medications", api.ListMedication)
		}
	}

	return r
}
