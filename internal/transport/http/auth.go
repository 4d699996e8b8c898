package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/middleware"
)

// AuthHandler 处理管理员登录、续期与当前身份查询
type AuthHandler struct {
	authService *auth.Service // 认证业务服务
	log         *zap.Logger   // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - authService: 认证业务服务
//   - log: 日志记录器
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Login 处理管理员登录请求
//
// 邮箱不存在与密码错误返回同样的 401。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.log.Warn("login failed", zap.String("ip", c.ClientIP()), zap.Error(err))
		respondError(c, h.log, err, MsgInvalidCredentials, MsgInternalError)
		return
	}
	Success(c, result)
}

// Refresh 使用刷新令牌换取新的令牌对
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.log, err, MsgTokenInvalid, MsgInternalError)
		return
	}
	Success(c, pair)
}

// Me 返回当前登录的管理员
func (h *AuthHandler) Me(c *gin.Context) {
	managerID := c.GetString(middleware.ContextManagerID)
	if managerID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	manager, err := h.authService.Me(c.Request.Context(), managerID)
	if err != nil {
		respondError(c, h.log, err, MsgAuthRequired, MsgInternalError)
		return
	}
	Success(c, manager)
}
