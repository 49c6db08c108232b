package handler

import (
	"net/http"

	"charityledger/internal/ledger"
	"charityledger/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FeedHandler serves the community feed.
type FeedHandler struct {
	store  *ledger.Store
	logger *zap.Logger
}

func NewFeedHandler(store *ledger.Store, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{store: store, logger: logger}
}

// ListPosts handles GET /posts?project_id=
func (h *FeedHandler) ListPosts(c *gin.Context) {
	if projectID := c.Query("project_id"); projectID != "" {
		c.JSON(http.StatusOK, gin.H{"posts": h.store.GetPostsByProject(projectID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": h.store.GetAllPosts()})
}

type createPostRequest struct {
	Type           model.PostType       `json:"type" binding:"required"`
	ProjectID      string               `json:"project_id"`
	MilestoneID    string               `json:"milestone_id"`
	OrganizationID string               `json:"organization_id"`
	AuthorName     string               `json:"author_name"`
	Title          string               `json:"title" binding:"required"`
	Content        string               `json:"content"`
	Images         []model.ProjectImage `json:"images"`
}

// CreatePost handles POST /posts
func (h *FeedHandler) CreatePost(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	post, err := h.store.CreateCommunityPost(c.Request.Context(), ledger.PostInput{
		Type:           req.Type,
		ProjectID:      req.ProjectID,
		MilestoneID:    req.MilestoneID,
		OrganizationID: req.OrganizationID,
		AuthorID:       id.UserID,
		AuthorName:     displayName(req.AuthorName, id.Name),
		AuthorRole:     authorRole(id.Role),
		Title:          req.Title,
		Content:        req.Content,
		Images:         req.Images,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// LikePost handles POST /posts/:id/like
func (h *FeedHandler) LikePost(c *gin.Context) {
	if err := h.store.LikePost(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AddComment handles POST /posts/:id/comments
func (h *FeedHandler) AddComment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req struct {
		Content    string `json:"content" binding:"required"`
		AuthorName string `json:"author_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	comment, err := h.store.AddCommentToPost(c.Request.Context(), c.Param("id"), ledger.CommentInput{
		AuthorID:   id.UserID,
		AuthorName: displayName(req.AuthorName, id.Name),
		AuthorRole: authorRole(id.Role),
		Content:    req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}
