package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Guardian/pkg/middleware"
	"Guardian/pkg/response"
)

// GetRateLimiterConfig 当前限流配置
func (h *Handlers) GetRateLimiterConfig(c *gin.Context) {
	if h.limiter == nil {
		response.Data(c, http.StatusOK, nil)
		return
	}
	response.Data(c, http.StatusOK, h.limiter.Config())
}

// UpdateRateLimiterConfig 更新限流配置
func (h *Handlers) UpdateRateLimiterConfig(c *gin.Context) {
	var config middleware.RateLimiterConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	if h.limiter == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rate limiter disabled"})
		return
	}

	// 更新限流配置
	h.limiter.UpdateConfig(config)
	response.Data(c, http.StatusOK, h.limiter.Config())
}

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	state := h.mgr.Active()
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "phase": state.Phase})
		return
	}
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	// 返回健康状态
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "phase": state.Phase})
}
