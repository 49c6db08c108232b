package handler

import (
	"net/http"
	"time"

	"charityledger/internal/config"
	"charityledger/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler issues tokens for configured operator accounts.
type AuthHandler struct {
	operators map[string]config.Operator
	jwt       JWTSettings
	now       func() time.Time
	logger    *zap.Logger
}

// JWTSettings 签发 token 的参数
type JWTSettings struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

func NewAuthHandler(operators []config.Operator, jwt JWTSettings, logger *zap.Logger) *AuthHandler {
	byID := make(map[string]config.Operator, len(operators))
	for _, op := range operators {
		byID[op.ID] = op
	}
	return &AuthHandler{operators: byID, jwt: jwt, now: time.Now, logger: logger}
}

// IssueToken handles POST /auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		ID       string `json:"id" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	op, ok := h.operators[req.ID]
	if !ok || !util.CheckPassword(req.Password, op.PasswordHash) {
		h.logger.Warn("Token request rejected", zap.String("id", req.ID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id or password"})
		return
	}

	now := h.now()
	token, err := util.GenerateJWT(op.ID, op.Name, op.Role, h.jwt.Issuer, h.jwt.Secret, h.jwt.TTL, now)
	if err != nil {
		h.logger.Error("Failed to sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"role":       op.Role,
		"expires_at": now.Add(h.jwt.TTL),
	})
}
