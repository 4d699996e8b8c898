package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/service"
)

// DashboardHandler 提供仪表盘统计与参考数据
type DashboardHandler struct {
	analytics *service.AnalyticsService
	rules     domain.ClassificationRules
	log       *zap.Logger
}

// NewDashboardHandler 创建仪表盘处理器
func NewDashboardHandler(analytics *service.AnalyticsService, rules domain.ClassificationRules, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{analytics: analytics, rules: rules, log: log}
}

// Stats 返回仪表盘统计
func (h *DashboardHandler) Stats(c *gin.Context) {
	stats, err := h.analytics.DashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, MsgStatsFailed, MsgStatsFailed)
		return
	}
	Success(c, stats)
}

// Regions 返回可用的 UF 代码
func (h *DashboardHandler) Regions(c *gin.Context) {
	Success(c, gin.H{
		"estados": domain.BrazilianStates,
		"strict":  h.rules.StrictRegions,
	})
}

// Categories 返回允许的分类
func (h *DashboardHandler) Categories(c *gin.Context) {
	categories := h.rules.Categories
	if len(categories) == 0 {
		categories = domain.DefaultCategories
	}
	Success(c, categories)
}
