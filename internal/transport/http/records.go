package httptransport

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/service"
)

// RecordHandler 处理邮件记录的查询、录入、分类与删除
type RecordHandler struct {
	records *service.RecordService
	log     *zap.Logger
}

// NewRecordHandler 创建邮件记录处理器
func NewRecordHandler(records *service.RecordService, log *zap.Logger) *RecordHandler {
	return &RecordHandler{records: records, log: log}
}

type createRecordRequest struct {
	Remetente     string     `json:"remetente"`
	NomeRemetente string     `json:"nome_remetente"`
	Destinatario  string     `json:"destinatario"`
	Assunto       string     `json:"assunto"`
	Corpo         string     `json:"corpo"`
	Data          *time.Time `json:"data"`
	Estado        string     `json:"estado"`
	Municipio     string     `json:"municipio"`
	Categoria     string     `json:"categoria"`
}

type classifyRequest struct {
	Estado    string  `json:"estado"`
	Municipio string  `json:"municipio"`
	Categoria *string `json:"categoria"`
}

// List 列出记录，支持 estado、municipio、categoria、remetente、classificado 过滤
func (h *RecordHandler) List(c *gin.Context) {
	filter := domain.RecordFilter{
		Region:   strings.TrimSpace(c.Query("estado")),
		Locality: strings.TrimSpace(c.Query("municipio")),
		Category: strings.TrimSpace(c.Query("categoria")),
		From:     strings.TrimSpace(c.Query("remetente")),
	}
	if raw := strings.TrimSpace(c.Query("classificado")); raw != "" {
		classified, err := strconv.ParseBool(raw)
		if err != nil {
			BadRequest(c, MsgInvalidFilter)
			return
		}
		filter.Classified = &classified
	}

	records, err := h.records.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailListFailed)
		return
	}
	Success(c, nonNil(records))
}

// ListPending 列出未分类记录
func (h *RecordHandler) ListPending(c *gin.Context) {
	records, err := h.records.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailListFailed)
		return
	}
	Success(c, nonNil(records))
}

// Get 获取单条记录
func (h *RecordHandler) Get(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailGetFailed)
		return
	}
	Success(c, record)
}

// Create 人工录入记录
func (h *RecordHandler) Create(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	record, err := h.records.Create(c.Request.Context(), service.CreateRecordInput{
		From:       req.Remetente,
		FromName:   req.NomeRemetente,
		To:         req.Destinatario,
		Subject:    req.Assunto,
		Body:       req.Corpo,
		ReceivedAt: req.Data,
		Region:     req.Estado,
		Locality:   req.Municipio,
		Category:   req.Categoria,
	})
	if err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailCreateFailed)
		return
	}
	Created(c, record)
}

// Classify 对记录执行分类
func (h *RecordHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	record, err := h.records.Classify(c.Request.Context(), c.Param("id"), domain.Classification{
		Region:   req.Estado,
		Locality: req.Municipio,
		Category: req.Categoria,
	})
	if err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailClassify)
		return
	}
	Success(c, record)
}

// Delete 删除记录
func (h *RecordHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.records.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err, MsgEmailNotFound, MsgEmailDeleteFailed)
		return
	}
	Success(c, gin.H{"id": id})
}

// nonNil 保证空列表序列化为 [] 而不是 null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
