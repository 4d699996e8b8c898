package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/auth/jwt"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/scheduler"
)

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "parâmetros da requisição inválidos"
	MsgInvalidFilter  = "filtro inválido"

	// 认证相关
	MsgAuthRequired       = "autenticação necessária"
	MsgInvalidCredentials = "email ou senha inválidos"
	MsgManagerInactive    = "gerente desativado"
	MsgTokenExpired       = "sessão expirada, faça login novamente"
	MsgTokenInvalid       = "token de acesso inválido"

	// 记录相关
	MsgEmailNotFound     = "email não encontrado"
	MsgEmailListFailed   = "falha ao listar emails"
	MsgEmailGetFailed    = "falha ao buscar email"
	MsgEmailCreateFailed = "falha ao cadastrar email"
	MsgEmailClassify     = "falha ao classificar email"
	MsgEmailDeleteFailed = "falha ao excluir email"

	// 发件人相关
	MsgSenderNotFound   = "funcionário não encontrado"
	MsgSenderListFailed = "falha ao listar funcionários"

	// 统计与同步
	MsgStatsFailed     = "falha ao calcular estatísticas"
	MsgSyncFailed      = "falha na sincronização"
	MsgSyncBusy        = "sincronização já em andamento, tente novamente"
	MsgSyncUnavailable = "sincronização não configurada"

	// 通用
	MsgAlreadyExists = "registro já existe"
	MsgInternalError = "erro interno do servidor"
)

// errorStatus 业务错误到 HTTP 状态码与消息的映射，按顺序匹配
//
// message 为空时使用错误本身的文本（只用于校验类错误）。
var errorStatus = []struct {
	target  error
	status  int
	message string
}{
	{domain.ErrValidation, http.StatusBadRequest, ""},
	{auth.ErrManagerInactive, http.StatusUnauthorized, MsgManagerInactive},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, MsgInvalidCredentials},
	{jwt.ErrExpiredToken, http.StatusUnauthorized, MsgTokenExpired},
	{jwt.ErrInvalidToken, http.StatusUnauthorized, MsgTokenInvalid},
	{domain.ErrAlreadyExists, http.StatusConflict, MsgAlreadyExists},
	{scheduler.ErrRunSkipped, http.StatusTooManyRequests, MsgSyncBusy},
}

// respondError 把服务层错误写成统一响应
//
// notFoundMsg 为记录不存在时的提示，fallback 为 500 时的提示。
// 500 响应不包含内部错误细节，细节只写入日志。
func respondError(c *gin.Context, log *zap.Logger, err error, notFoundMsg, fallback string) {
	if errors.Is(err, domain.ErrNotFound) {
		NotFound(c, notFoundMsg)
		return
	}

	for _, m := range errorStatus {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		Error(c, m.status, msg)
		return
	}

	log.Error("request failed",
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
	)
	InternalError(c, fallback)
}
