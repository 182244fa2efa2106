package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTransactionTimeout = 5 * time.Second

// ShareRequest 是一次经过校验的分享请求。
type ShareRequest struct {
	PostID   string
	SharerID string
	Channel  string
	Targets  []string
	Message  string
	Privacy  string
}

// ExecuteResult 是分享事务提交后的结果。
type ExecuteResult struct {
	ShareID       string
	NewShareCount int64
	CreatedAt     time.Time
	Record        db.Share
}

// RemoveResult 是撤销分享后的结果。
type RemoveResult struct {
	ShareID       string
	PostID        string
	NewShareCount int64
}

// ShareFilter 描述按时间排序的分享记录范围查询。
type ShareFilter struct {
	PostID         string
	SharerID       string
	Since          *time.Time
	Until          *time.Time
	IncludeRemoved bool
	Limit          int
}

// ScopeInvalidator 在计数变化后丢弃缓存的聚合指标。
type ScopeInvalidator interface {
	Invalidate(scope analytics.Scope)
}

// ShareTransactionExecutor 是唯一写入持久存储的组件：
// 分享记录、计数器与去重分享者集合在同一事务内更新，并以 version 列做乐观并发控制。
type ShareTransactionExecutor struct {
	db          *gorm.DB
	timeout     time.Duration
	now         func() time.Time
	invalidator ScopeInvalidator

	mu       sync.RWMutex
	counters map[string]counterState
}

// counterState 是文章计数的缓存值。并发提交可能乱序写回，只接受版本不旧于已缓存值的写入。
type counterState struct {
	ShareCount int64
	Version    int64
}

// NewShareTransactionExecutor 创建执行器，默认事务超时 5 秒。
func NewShareTransactionExecutor(gdb *gorm.DB, invalidator ScopeInvalidator) *ShareTransactionExecutor {
	return &ShareTransactionExecutor{
		db:          gdb,
		timeout:     defaultTransactionTimeout,
		now:         time.Now,
		invalidator: invalidator,
		counters:    make(map[string]counterState),
	}
}

// WithTimeout 调整事务超时。
func (s *ShareTransactionExecutor) WithTimeout(d time.Duration) *ShareTransactionExecutor {
	if d <= 0 {
		return s
	}
	s.timeout = d
	return s
}

// WithClock 允许在测试中固定时间。
func (s *ShareTransactionExecutor) WithClock(now func() time.Time) *ShareTransactionExecutor {
	if now == nil {
		return s
	}
	s.now = now
	return s
}

// Execute 在一个事务内创建分享记录、递增计数并登记分享者。
// snapshot.Version 与库中不一致时返回 ErrConflict，调用方可用最新快照重试一次。
func (s *ShareTransactionExecutor) Execute(ctx context.Context, req ShareRequest, snapshot db.PostSnapshot) (ExecuteResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecuteResult{}, err
	}

	targets := req.Targets
	if targets == nil {
		targets = []string{}
	}
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("encode targets: %w", err)
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	now := s.now()
	share := db.Share{
		ShareID:   uuid.NewString(),
		PostID:    snapshot.ID,
		SharerID:  req.SharerID,
		Channel:   req.Channel,
		Targets:   datatypes.JSON(targetsJSON),
		Message:   req.Message,
		Privacy:   req.Privacy,
		Snapshot:  datatypes.JSON(snapshotJSON),
		CreatedAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	var state counterState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&share).Error; err != nil {
			return err
		}

		update := tx.Model(&db.Post{}).
			Where("id = ? AND version = ?", snapshot.ID, snapshot.Version).
			Updates(map[string]interface{}{
				"share_count":    gorm.Expr("share_count + 1"),
				"version":        gorm.Expr("version + 1"),
				"last_shared_at": now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&db.Post{}).Where("id = ?", snapshot.ID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return ErrPostNotFound
			}
			return ErrConflict
		}

		sharer := db.PostSharer{PostID: snapshot.ID, SharerID: req.SharerID, FirstSharedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "sharer_id"}},
			DoNothing: true,
		}).Create(&sharer).Error; err != nil {
			return err
		}

		return tx.Model(&db.Post{}).Select("share_count", "version").Where("id = ?", snapshot.ID).Scan(&state).Error
	})
	metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.TransactionConflicts.Inc()
		}
		return ExecuteResult{}, fmt.Errorf("execute share on post %s: %w", snapshot.ID, err)
	}

	s.setCount(snapshot.ID, state)
	s.invalidate(snapshot.ID, req.SharerID)

	return ExecuteResult{ShareID: share.ShareID, NewShareCount: state.ShareCount, CreatedAt: now, Record: share}, nil
}

// Remove 软删除分享记录并递减计数，只有原分享者可以撤销。
func (s *ShareTransactionExecutor) Remove(ctx context.Context, shareID, subject string) (RemoveResult, error) {
	if err := ctx.Err(); err != nil {
		return RemoveResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	var (
		share db.Share
		state counterState
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("share_id = ? AND removed_at IS NULL", shareID).
			First(&share).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrShareNotFound
			}
			return err
		}
		if share.SharerID != subject {
			return ErrNotShareOwner
		}

		if err := tx.Model(&db.Share{}).Where("share_id = ?", shareID).Update("removed_at", now).Error; err != nil {
			return err
		}

		if err := tx.Model(&db.Post{}).
			Where("id = ? AND share_count > 0", share.PostID).
			Updates(map[string]interface{}{
				"share_count": gorm.Expr("share_count - 1"),
				"version":     gorm.Expr("version + 1"),
			}).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&db.Share{}).
			Where("post_id = ? AND sharer_id = ? AND removed_at IS NULL", share.PostID, subject).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Where("post_id = ? AND sharer_id = ?", share.PostID, subject).
				Delete(&db.PostSharer{}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&db.Post{}).Select("share_count", "version").Where("id = ?", share.PostID).Scan(&state).Error
	})
	if err != nil {
		return RemoveResult{}, fmt.Errorf("remove share %s: %w", shareID, err)
	}

	s.setCount(share.PostID, state)
	s.invalidate(share.PostID, subject)

	return RemoveResult{ShareID: shareID, PostID: share.PostID, NewShareCount: state.ShareCount}, nil
}

// ShareCount 返回文章的分享计数，优先读取本地缓存。
func (s *ShareTransactionExecutor) ShareCount(ctx context.Context, postID string) (int64, error) {
	s.mu.RLock()
	cached, ok := s.counters[postID]
	s.mu.RUnlock()
	if ok {
		return cached.ShareCount, nil
	}

	var post db.Post
	if err := s.db.WithContext(ctx).Select("id", "share_count", "version").First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrPostNotFound
		}
		return 0, err
	}
	s.setCount(postID, counterState{ShareCount: post.ShareCount, Version: post.Version})
	return post.ShareCount, nil
}

// SharerCount 返回文章的去重分享者数量。
func (s *ShareTransactionExecutor) SharerCount(ctx context.Context, postID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.PostSharer{}).Where("post_id = ?", postID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListShares 按创建时间升序返回符合条件的分享记录。
func (s *ShareTransactionExecutor) ListShares(ctx context.Context, filter ShareFilter) ([]db.Share, error) {
	query := s.db.WithContext(ctx).Model(&db.Share{})
	if filter.PostID != "" {
		query = query.Where("post_id = ?", filter.PostID)
	}
	if filter.SharerID != "" {
		query = query.Where("sharer_id = ?", filter.SharerID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", *filter.Until)
	}
	if !filter.IncludeRemoved {
		query = query.Where("removed_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var shares []db.Share
	if err := query.Order("created_at asc").Order("share_id asc").Limit(limit).Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

// ForgetCount 丢弃文章的缓存计数，下次读取回源。
func (s *ShareTransactionExecutor) ForgetCount(postID string) {
	s.mu.Lock()
	delete(s.counters, postID)
	s.mu.Unlock()
}

func (s *ShareTransactionExecutor) setCount(postID string, state counterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.counters[postID]; ok && current.Version > state.Version {
		return
	}
	s.counters[postID] = state
}

func (s *ShareTransactionExecutor) invalidate(postID, sharerID string) {
	if s.invalidator == nil {
		return
	}
	s.invalidator.Invalidate(analytics.PostScope(postID))
	s.invalidator.Invalidate(analytics.SharerScope(sharerID))
}
