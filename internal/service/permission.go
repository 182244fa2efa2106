package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/sharegate/internal/db"
)

// Permission 是权限判定结果。AllowedTargets 为 nil 表示不限制目标。
type Permission struct {
	Allowed        bool
	Reason         string
	AllowedTargets []string
}

// TargetResolution 将请求的目标拆分为有效与无效两部分。
type TargetResolution struct {
	Valid   []string
	Invalid []string
}

// PermissionOracle 判定主体能否分享文章以及目标是否有效，结果视为权威。
type PermissionOracle interface {
	CanShare(ctx context.Context, postID, subject, channel string) (Permission, error)
	ResolveTargets(ctx context.Context, subject, channel string, requested []string) (TargetResolution, error)
}

var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

// PostPermissionOracle 基于文章的可见性与分享开关做判定，好友与群组关系不在本服务维护。
type PostPermissionOracle struct {
	posts *PostService
}

// NewPostPermissionOracle 创建默认的权限判定实现。
func NewPostPermissionOracle(posts *PostService) *PostPermissionOracle {
	return &PostPermissionOracle{posts: posts}
}

// CanShare 文章不存在时返回 ErrPostNotFound。
func (o *PostPermissionOracle) CanShare(ctx context.Context, postID, subject, channel string) (Permission, error) {
	post, err := o.posts.Get(ctx, postID)
	if err != nil {
		return Permission{}, err
	}
	if !post.AllowShare {
		return Permission{Reason: "sharing is disabled for this post"}, nil
	}

	isAuthor := post.AuthorID == subject
	switch post.Privacy {
	case db.PrivacyPrivate:
		if !isAuthor {
			return Permission{Reason: "post is private"}, nil
		}
	case db.PrivacyFriends:
		// 仅好友可见的文章不能被非作者扩散到公开渠道
		if !isAuthor && channel != db.ChannelFriends {
			return Permission{Reason: "friends-only post can only be shared to friends"}, nil
		}
	}
	return Permission{Allowed: true}, nil
}

// ResolveTargets 去重并剔除格式非法或指向自己的目标。
func (o *PostPermissionOracle) ResolveTargets(_ context.Context, subject, _ string, requested []string) (TargetResolution, error) {
	var res TargetResolution
	seen := make(map[string]struct{}, len(requested))
	for _, raw := range requested {
		target := strings.TrimSpace(raw)
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}

		if target == "" || target == subject || !targetIDPattern.MatchString(target) {
			res.Invalid = append(res.Invalid, raw)
			continue
		}
		res.Valid = append(res.Valid, target)
	}
	return res, nil
}
