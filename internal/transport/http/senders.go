package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/service"
)

// SenderHandler 处理发件人（funcionários）查询
type SenderHandler struct {
	senders *service.SenderService
	log     *zap.Logger
}

// NewSenderHandler 创建发件人处理器
func NewSenderHandler(senders *service.SenderService, log *zap.Logger) *SenderHandler {
	return &SenderHandler{senders: senders, log: log}
}

// List 列出全部发件人
func (h *SenderHandler) List(c *gin.Context) {
	senders, err := h.senders.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, MsgSenderNotFound, MsgSenderListFailed)
		return
	}
	Success(c, nonNil(senders))
}

// Get 获取单个发件人
func (h *SenderHandler) Get(c *gin.Context) {
	sender, err := h.senders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgSenderNotFound, MsgSenderListFailed)
		return
	}
	Success(c, sender)
}

// Records 返回发件人名下的记录
func (h *SenderHandler) Records(c *gin.Context) {
	records, err := h.senders.Records(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgSenderNotFound, MsgEmailListFailed)
		return
	}
	Success(c, nonNil(records))
}
