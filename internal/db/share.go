package db

import (
	"time"

	"gorm.io/datatypes"
)

// 分享渠道。
const (
	ChannelFriends = "friends"
	ChannelFeed    = "feed"
	ChannelGroups  = "groups"
)

// Share 是一次成功分享的持久记录，创建后只允许软删除。
type Share struct {
	ShareID   string         `gorm:"primaryKey;size:36" json:"shareId"`
	PostID    string         `gorm:"size:64;index;not null" json:"postId"`
	SharerID  string         `gorm:"size:64;index;not null" json:"sharerId"`
	Channel   string         `gorm:"size:16;not null" json:"channel"`
	Targets   datatypes.JSON `gorm:"type:json" json:"targets"`
	Message   string         `json:"message"`
	Privacy   string         `gorm:"size:16" json:"privacy"`
	Snapshot  datatypes.JSON `gorm:"type:json" json:"snapshot"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
	RemovedAt *time.Time     `gorm:"index" json:"removedAt,omitempty"`
}

// TableName 指定自定义表名。
func (Share) TableName() string {
	return "shares"
}

// PostSharer 记录文章的去重分享者集合。
type PostSharer struct {
	PostID        string `gorm:"primaryKey;size:64"`
	SharerID      string `gorm:"primaryKey;size:64"`
	FirstSharedAt time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (PostSharer) TableName() string {
	return "post_sharers"
}
