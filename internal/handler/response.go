package handler

import (
	"errors"
	"net/http"

	"charityledger/internal/ledger"
	"charityledger/internal/model"

	"github.com/gin-gonic/gin"
)

// context keys set by the auth middleware
const (
	ContextUserID   = "user_id"
	ContextUserName = "user_name"
	ContextRole     = "role"
)

// Identity 当前请求的身份
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// identity 统一读取 token 身份，缺失时直接返回 401
func identity(c *gin.Context) (Identity, bool) {
	uid := c.GetString(ContextUserID)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return Identity{}, false
	}
	return Identity{
		UserID: uid,
		Name:   c.GetString(ContextUserName),
		Role:   c.GetString(ContextRole),
	}, true
}

// statusFor 把账本错误类别映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvariant):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respond writes body with okStatus when r succeeded, or the mapped error status otherwise.
func respond(c *gin.Context, okStatus int, r ledger.Result, body any) {
	if !r.Success {
		c.JSON(statusFor(r.Err), body)
		return
	}
	c.JSON(okStatus, body)
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": ledger.Message(err)})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

// authorRole maps a token role onto the feed's author roles; admins post as the community.
func authorRole(role string) model.AuthorRole {
	r := model.AuthorRole(role)
	if r.Valid() {
		return r
	}
	return model.RoleCommunity
}

func displayName(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
