package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/scheduler"
)

// SyncController 同步调度器对外暴露的操作
type SyncController interface {
	Trigger(ctx context.Context) (*domain.SyncResult, error)
	Status() scheduler.Status
}

// SyncHandler 处理手动同步与同步状态
type SyncHandler struct {
	sync SyncController // 未配置邮箱时为 nil
	log  *zap.Logger
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(sync SyncController, log *zap.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, log: log}
}

// Trigger 立即执行一次同步，返回新入库的记录
//
// 并发同步已达上限时返回 429。
func (h *SyncHandler) Trigger(c *gin.Context) {
	if h.sync == nil {
		ServiceUnavailable(c, MsgSyncUnavailable)
		return
	}

	result, err := h.sync.Trigger(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, MsgSyncFailed, MsgSyncFailed)
		return
	}

	c.JSON(http.StatusOK, syncResponse{
		Success: true,
		Message: fmt.Sprintf("%d emails sincronizados", result.Ingested),
		Count:   result.Ingested,
		Data:    nonNil(result.Records),
		Run: syncSummary{
			RunID:      result.RunID,
			Trigger:    result.Trigger,
			Fetched:    result.Fetched,
			Duplicates: result.Duplicates,
			Failed:     result.Failed,
			StartedAt:  result.StartedAt,
			FinishedAt: result.FinishedAt,
		},
	})
}

// Status 返回调度器状态
func (h *SyncHandler) Status(c *gin.Context) {
	if h.sync == nil {
		ServiceUnavailable(c, MsgSyncUnavailable)
		return
	}
	Success(c, h.sync.Status())
}

// syncResponse 手动同步响应，data 为新入库的记录列表
type syncResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Count   int              `json:"count"`
	Data    []*domain.Record `json:"data"`
	Run     syncSummary      `json:"run"`
}

type syncSummary struct {
	RunID      string             `json:"runId"`
	Trigger    domain.SyncTrigger `json:"trigger"`
	Fetched    int                `json:"fetched"`
	Duplicates int                `json:"duplicates"`
	Failed     int                `json:"failed"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}
