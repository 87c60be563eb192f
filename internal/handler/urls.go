package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"Guardian/internal/alert"
	"Guardian/internal/device"
	"Guardian/internal/models"
	"Guardian/pkg/cache"
	"Guardian/pkg/i18n"
	"Guardian/pkg/metrics"
	"Guardian/pkg/middleware"
	"Guardian/pkg/sse"
	"Guardian/pkg/websocket"
)

const APIPrefix = "/v1"

// Options 处理器依赖。Actions、Limiter、Idempotency、Metrics 可为空
type Options struct {
	DB          *gorm.DB
	Manager     *alert.Manager
	Settings    *models.SettingsStore
	Actions     *models.ActionLog
	Location    *device.LocationFeed
	Speech      *device.TranscriptFeed
	Events      *sse.Hub
	WS          *websocket.Handler
	I18n        *i18n.I18nSupport
	Limiter     *middleware.RateLimiter
	Idempotency cache.Cache
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Handlers struct {
	db       *gorm.DB
	mgr      *alert.Manager
	settings *models.SettingsStore
	actions  *models.ActionLog
	location *device.LocationFeed
	speech   *device.TranscriptFeed
	events   *sse.Hub
	ws       *websocket.Handler
	tr       *i18n.I18nSupport
	limiter  *middleware.RateLimiter
	idem     cache.Cache
	metrics  *metrics.Metrics
	log      *zap.Logger

	stopWatch func()
}

func NewHandlers(o Options) *Handlers {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	h := &Handlers{
		db:       o.DB,
		mgr:      o.Manager,
		settings: o.Settings,
		actions:  o.Actions,
		location: o.Location,
		speech:   o.Speech,
		events:   o.Events,
		ws:       o.WS,
		tr:       o.I18n,
		limiter:  o.Limiter,
		idem:     o.Idempotency,
		metrics:  o.Metrics,
		log:      o.Logger.Named("http"),
	}
	if h.events != nil {
		// 状态变化推给 SSE，新连接从 hub 的最新事件补齐
		h.stopWatch = h.mgr.Watch(func(s alert.State) {
			h.events.PublishJSON("state", s)
		})
	}
	return h
}

// Close 停止状态订阅
func (h *Handlers) Close() {
	if h.stopWatch != nil {
		h.stopWatch()
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	r := engine.Group(APIPrefix)
	r.Use(middleware.LanguageMiddleware(h.tr))

	h.registerDetectionRoutes(r)
	h.registerAlertRoutes(r)
	h.registerCheckInRoutes(r)
	h.registerChannelRoutes(r)
	h.registerDeviceRoutes(r)
	h.registerSettingsRoutes(r)
	h.registerSystemRoutes(r)

	r.GET("/docs", h.handleDocs)
}

func (h *Handlers) registerDetectionRoutes(r *gin.RouterGroup) {
	detection := r.Group("detection")
	{
		detection.POST("/arm", h.handleArmDetection)

		detection.POST("/disarm", h.handleDisarmDetection)
	}
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	alerts := r.Group("alerts")
	{
		alerts.POST("", middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{Store: h.idem}), h.handleTrigger)

		alerts.GET("/active", h.handleActive)

		alerts.GET("/events", h.handleEvents)

		alerts.GET("/:id", h.handleGetAlert)

		alerts.GET("/:id/actions", h.handleAlertActions)

		alerts.POST("/:id/safe", h.handleSafe)
	}
}

func (h *Handlers) registerCheckInRoutes(r *gin.RouterGroup) {
	checkin := r.Group("checkin")
	{
		checkin.POST("", h.handleStartCheckIn)

		checkin.DELETE("", h.handleConfirmCheckIn)
	}
}

func (h *Handlers) registerChannelRoutes(r *gin.RouterGroup) {
	channels := r.Group("channels")
	{
		channels.GET("/pair", h.handlePair)

		channels.GET("/:key/records", h.handleRecords)

		post := []gin.HandlerFunc{h.handlePostMessage}
		if h.limiter != nil {
			post = append([]gin.HandlerFunc{h.limiter.Middleware()}, post...)
		}
		channels.POST("/:key/messages", post...)

		channels.GET("/:key/ws", h.handleChannelWS)
	}
}

func (h *Handlers) registerDeviceRoutes(r *gin.RouterGroup) {
	dev := r.Group("device")
	{
		dev.POST("/location", h.handleDeviceLocation)

		dev.POST("/transcript", h.handleDeviceTranscript)

		dev.POST("/permission", h.handleDevicePermission)
	}
}

func (h *Handlers) registerSettingsRoutes(r *gin.RouterGroup) {
	settings := r.Group("settings")
	{
		settings.GET("", h.handleGetSettings)

		settings.PUT("/profile", h.handleSaveProfile)

		settings.GET("/contacts", h.handleListContacts)

		settings.POST("/contacts", h.handleAddContact)

		settings.DELETE("/contacts/:id", h.handleRemoveContact)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/rate-limiter/config", h.GetRateLimiterConfig)

		system.POST("/rate-limiter/config", h.UpdateRateLimiterConfig)

		system.GET("/ws-stats", h.handleWSStats)
	}
}
