package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sharegate/internal/db"
	"gorm.io/gorm"
)

var ErrInvalidPost = errors.New("post is missing required fields")

// PostService wraps post related database operations.
type PostService struct {
	db *gorm.DB
}

// PostInput represents fields accepted when creating a post.
type PostInput struct {
	ID         string
	AuthorID   string
	Title      string
	Content    string
	Privacy    string
	AllowShare bool
}

// PostFilter describes filters for listing posts.
type PostFilter struct {
	AuthorID string
	Page     int
	PerPage  int
}

// NewPostService creates a PostService instance.
func NewPostService(gdb *gorm.DB) *PostService {
	return &PostService{db: gdb}
}

// Get fetches a post by id.
func (s *PostService) Get(ctx context.Context, id string) (*db.Post, error) {
	var post db.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// Snapshot 读取文章的最新状态，用作分享事务的乐观锁基线。
func (s *PostService) Snapshot(ctx context.Context, id string) (db.PostSnapshot, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return db.PostSnapshot{}, err
	}
	return post.Snapshot(), nil
}

// Create persists a post; an empty id is replaced by a random uuid.
func (s *PostService) Create(ctx context.Context, input PostInput) (*db.Post, error) {
	author := strings.TrimSpace(input.AuthorID)
	if author == "" {
		return nil, ErrInvalidPost
	}

	privacy, err := normalizePrivacy(input.Privacy)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	post := db.Post{
		ID:         id,
		AuthorID:   author,
		Title:      strings.TrimSpace(input.Title),
		Content:    input.Content,
		Privacy:    privacy,
		AllowShare: input.AllowShare,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// List provides paginated posts ordered by created time descending.
func (s *PostService) List(ctx context.Context, filter PostFilter) ([]db.Post, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}

	query := s.db.WithContext(ctx).Model(&db.Post{})
	if author := strings.TrimSpace(filter.AuthorID); author != "" {
		query = query.Where("author_id = ?", author)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var posts []db.Post
	if err := query.Order("created_at desc").
		Offset((filter.Page - 1) * filter.PerPage).
		Limit(filter.PerPage).
		Find(&posts).Error; err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

func normalizePrivacy(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", db.PrivacyPublic:
		return db.PrivacyPublic, nil
	case db.PrivacyFriends:
		return db.PrivacyFriends, nil
	case db.PrivacyPrivate:
		return db.PrivacyPrivate, nil
	default:
		return "", fmt.Errorf("%w: unknown privacy %q", ErrInvalidPost, raw)
	}
}
