package ledger

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"charityledger/internal/feed"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
)

// GetAllPosts returns every post, newest first.
func (s *Store) GetAllPosts() []model.CommunityPost {
	s.mu.RLock()
	out := make([]model.CommunityPost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	feed.SortNewestFirst(out)
	return out
}

func (s *Store) GetPostsByProject(projectID string) []model.CommunityPost {
	s.mu.RLock()
	out := feed.ByProject(s.posts, projectID)
	s.mu.RUnlock()
	for i := range out {
		out[i] = out[i].Clone()
	}
	feed.SortNewestFirst(out)
	return out
}

func validatePostInput(in PostInput) error {
	if !in.Type.Valid() {
		return validationf("Unknown post type %q", in.Type)
	}
	if !in.AuthorRole.Valid() {
		return validationf("Unknown author role %q", in.AuthorRole)
	}
	if strings.TrimSpace(in.AuthorID) == "" {
		return validationf("Author id is required")
	}
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Content) == "" {
		return validationf("Post needs a title or content")
	}
	return nil
}

// CreateCommunityPost publishes a user authored post.
func (s *Store) CreateCommunityPost(ctx context.Context, in PostInput) (model.CommunityPost, error) {
	if err := validatePostInput(in); err != nil {
		s.observe(ctx, "create_post", err)
		return model.CommunityPost{}, err
	}
	if in.ProjectID != "" {
		if _, ok := s.get(in.ProjectID); !ok {
			s.observe(ctx, "create_post", errProjectNotFound)
			return model.CommunityPost{}, errProjectNotFound
		}
	}

	post := model.CommunityPost{
		ID:             s.newID(),
		Type:           in.Type,
		ProjectID:      in.ProjectID,
		OrganizationID: in.OrganizationID,
		AuthorID:       in.AuthorID,
		AuthorName:     in.AuthorName,
		AuthorRole:     in.AuthorRole,
		Title:          in.Title,
		Content:        in.Content,
		Images:         copyImages(in.Images),
		Timestamp:      s.now().UTC(),
		MilestoneID:    in.MilestoneID,
		Comments:       []model.PostComment{},
	}
	err := s.commit(ctx, change{posts: func(current []model.CommunityPost) []model.CommunityPost {
		return append(current, post)
	}})
	s.observe(ctx, "create_post", err)
	if err != nil {
		return model.CommunityPost{}, err
	}
	return post.Clone(), nil
}

// LikePost increments the like counter of a post.
func (s *Store) LikePost(ctx context.Context, postID string) error {
	err := s.updatePost(ctx, postID, func(p *model.CommunityPost) {
		p.Likes++
	})
	s.observe(ctx, "like_post", err)
	return err
}

// AddCommentToPost appends a comment and returns it with its id and timestamp.
func (s *Store) AddCommentToPost(ctx context.Context, postID string, in CommentInput) (model.PostComment, error) {
	if strings.TrimSpace(in.Content) == "" {
		err := validationf("Comment content is required")
		s.observe(ctx, "comment_post", err)
		return model.PostComment{}, err
	}
	if !in.AuthorRole.Valid() {
		err := validationf("Unknown author role %q", in.AuthorRole)
		s.observe(ctx, "comment_post", err)
		return model.PostComment{}, err
	}

	comment := model.PostComment{
		ID:         s.newID(),
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		AuthorRole: in.AuthorRole,
		Content:    in.Content,
		Timestamp:  s.now().UTC(),
	}
	err := s.updatePost(ctx, postID, func(p *model.CommunityPost) {
		p.Comments = append(p.Comments, comment)
	})
	s.observe(ctx, "comment_post", err)
	if err != nil {
		return model.PostComment{}, err
	}
	return comment, nil
}

// updatePost replaces one post with an edited copy. Post updates run under
// the commit lock, so concurrent likes are not lost.
func (s *Store) updatePost(ctx context.Context, postID string, edit func(*model.CommunityPost)) error {
	byID := func(p model.CommunityPost) bool { return p.ID == postID }
	s.mu.RLock()
	exists := slices.ContainsFunc(s.posts, byID)
	s.mu.RUnlock()
	if !exists {
		return errPostNotFound
	}

	err := s.commit(ctx, change{posts: func(current []model.CommunityPost) []model.CommunityPost {
		out := slices.Clone(current)
		if i := slices.IndexFunc(out, byID); i >= 0 {
			p := out[i].Clone()
			edit(&p)
			out[i] = p
		}
		return out
	}})
	if err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Debug("Community post updated", zap.String("post_id", postID))
	return nil
}
