package db

import "time"

// 文章可见性。
const (
	PrivacyPublic  = "public"
	PrivacyFriends = "friends"
	PrivacyPrivate = "private"
)

// Post 定义了可被分享的文章模型，分享计数与乐观锁版本号由分享事务维护。
type Post struct {
	ID           string `gorm:"primaryKey;size:64"`
	AuthorID     string `gorm:"size:64;index;not null"`
	Title        string
	Content      string
	Privacy      string `gorm:"size:16;not null;default:public"`
	AllowShare   bool   `gorm:"not null"`
	ShareCount   int64  `gorm:"not null;default:0"`
	LastSharedAt *time.Time
	Version      int64 `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PostSnapshot 是分享发生时文章状态的只读副本。
type PostSnapshot struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	Title      string    `json:"title"`
	Privacy    string    `json:"privacy"`
	AllowShare bool      `json:"allowShare"`
	ShareCount int64     `json:"shareCount"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Snapshot 返回当前文章状态的副本。
func (p Post) Snapshot() PostSnapshot {
	return PostSnapshot{
		ID:         p.ID,
		AuthorID:   p.AuthorID,
		Title:      p.Title,
		Privacy:    p.Privacy,
		AllowShare: p.AllowShare,
		ShareCount: p.ShareCount,
		Version:    p.Version,
		CreatedAt:  p.CreatedAt,
	}
}
