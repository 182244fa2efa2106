package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 7, 10, 8, 0, 0, 0, time.UTC)

var testDBSeq atomic.Int64

func setupShareTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:share-test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	gdb, err := db.Open(dsn, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func createTestPost(t *testing.T, gdb *gorm.DB, input PostInput) *db.Post {
	t.Helper()
	post, err := NewPostService(gdb).Create(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return post
}

type recordingInvalidator struct {
	mu     sync.Mutex
	scopes []analytics.Scope
}

func (r *recordingInvalidator) Invalidate(scope analytics.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
}

func TestExecuteRecordsShareAndCounter(t *testing.T) {
	gdb := setupShareTestDB(t)
	post := createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})

	inv := &recordingInvalidator{}
	exec := NewShareTransactionExecutor(gdb, inv).WithClock(func() time.Time { return testNow })

	res, err := exec.Execute(context.Background(), ShareRequest{
		PostID:   "p1",
		SharerID: "u1",
		Channel:  db.ChannelFriends,
		Targets:  []string{"f1", "f2"},
		Message:  "check it out",
		Privacy:  db.PrivacyPublic,
	}, post.Snapshot())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.NewShareCount != 1 || res.ShareID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	var stored db.Post
	if err := gdb.First(&stored, "id = ?", "p1").Error; err != nil {
		t.Fatalf("load post: %v", err)
	}
	if stored.ShareCount != 1 || stored.Version != 1 {
		t.Fatalf("expected count=1 version=1, got count=%d version=%d", stored.ShareCount, stored.Version)
	}
	if stored.LastSharedAt == nil || !stored.LastSharedAt.Equal(testNow) {
		t.Fatalf("expected last shared at %v, got %v", testNow, stored.LastSharedAt)
	}

	var share db.Share
	if err := gdb.First(&share, "share_id = ?", res.ShareID).Error; err != nil {
		t.Fatalf("load share: %v", err)
	}
	if string(share.Targets) != `["f1","f2"]` {
		t.Fatalf("unexpected targets json: %s", share.Targets)
	}

	var sharers int64
	gdb.Model(&db.PostSharer{}).Where("post_id = ?", "p1").Count(&sharers)
	if sharers != 1 {
		t.Fatalf("expected one distinct sharer, got %d", sharers)
	}

	if len(inv.scopes) != 2 || inv.scopes[0] != analytics.PostScope("p1") || inv.scopes[1] != analytics.SharerScope("u1") {
		t.Fatalf("expected post and sharer scopes to be invalidated, got %+v", inv.scopes)
	}
}

func TestExecuteStaleSnapshotConflicts(t *testing.T) {
	gdb := setupShareTestDB(t)
	post := createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	exec := NewShareTransactionExecutor(gdb, nil)
	stale := post.Snapshot()

	req := ShareRequest{PostID: "p1", SharerID: "u1", Channel: db.ChannelFeed}
	if _, err := exec.Execute(context.Background(), req, stale); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}

	_, err := exec.Execute(context.Background(), req, stale)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	var shares int64
	gdb.Model(&db.Share{}).Count(&shares)
	if shares != 1 {
		t.Fatalf("conflicting execute must not leave a share record, got %d", shares)
	}
}

func TestExecuteMissingPost(t *testing.T) {
	gdb := setupShareTestDB(t)
	exec := NewShareTransactionExecutor(gdb, nil)

	_, err := exec.Execute(context.Background(), ShareRequest{SharerID: "u1", Channel: db.ChannelFeed}, db.PostSnapshot{ID: "missing"})
	if !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}

func TestExecuteCanceledContext(t *testing.T) {
	gdb := setupShareTestDB(t)
	post := createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	exec := NewShareTransactionExecutor(gdb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.Execute(ctx, ShareRequest{PostID: "p1", SharerID: "u1", Channel: db.ChannelFeed}, post.Snapshot()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	var stored db.Post
	gdb.First(&stored, "id = ?", "p1")
	if stored.ShareCount != 0 {
		t.Fatalf("canceled execute must not change the counter, got %d", stored.ShareCount)
	}
}

func TestConcurrentExecuteKeepsCounterConsistent(t *testing.T) {
	gdb := setupShareTestDB(t)
	createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	posts := NewPostService(gdb)
	exec := NewShareTransactionExecutor(gdb, nil)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		conflicts atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := posts.Snapshot(context.Background(), "p1")
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			_, err = exec.Execute(context.Background(), ShareRequest{
				PostID:   "p1",
				SharerID: fmt.Sprintf("u%d", i%5),
				Channel:  db.ChannelFeed,
			}, snap)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes.Load() == 0 {
		t.Fatalf("expected at least one successful share")
	}
	if successes.Load()+conflicts.Load() != attempts {
		t.Fatalf("expected every attempt to succeed or conflict, got %d + %d", successes.Load(), conflicts.Load())
	}

	var stored db.Post
	gdb.First(&stored, "id = ?", "p1")
	var records int64
	gdb.Model(&db.Share{}).Where("post_id = ? AND removed_at IS NULL", "p1").Count(&records)

	if stored.ShareCount != records || records != successes.Load() {
		t.Fatalf("counter %d, records %d, successes %d must match", stored.ShareCount, records, successes.Load())
	}
}

func TestRemoveShareOwnerOnly(t *testing.T) {
	gdb := setupShareTestDB(t)
	createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	posts := NewPostService(gdb)
	exec := NewShareTransactionExecutor(gdb, nil)
	ctx := context.Background()

	share := func(sharer string) ExecuteResult {
		snap, err := posts.Snapshot(ctx, "p1")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		res, err := exec.Execute(ctx, ShareRequest{PostID: "p1", SharerID: sharer, Channel: db.ChannelFeed}, snap)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		return res
	}
	first := share("u1")
	share("u2")

	if _, err := exec.Remove(ctx, first.ShareID, "u2"); !errors.Is(err, ErrNotShareOwner) {
		t.Fatalf("expected ErrNotShareOwner, got %v", err)
	}
	if count, _ := exec.ShareCount(ctx, "p1"); count != 2 {
		t.Fatalf("rejected removal must not change the counter, got %d", count)
	}

	res, err := exec.Remove(ctx, first.ShareID, "u1")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if res.NewShareCount != 1 || res.PostID != "p1" {
		t.Fatalf("unexpected remove result: %+v", res)
	}

	var stored db.Post
	gdb.First(&stored, "id = ?", "p1")
	if stored.ShareCount != 1 {
		t.Fatalf("expected exactly one decrement, got %d", stored.ShareCount)
	}

	var sharers []db.PostSharer
	gdb.Where("post_id = ?", "p1").Find(&sharers)
	if len(sharers) != 1 || sharers[0].SharerID != "u2" {
		t.Fatalf("expected only u2 to remain a sharer, got %+v", sharers)
	}

	if _, err := exec.Remove(ctx, first.ShareID, "u1"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected ErrShareNotFound for a removed share, got %v", err)
	}
	if _, err := exec.Remove(ctx, "missing", "u1"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected ErrShareNotFound, got %v", err)
	}
}

func TestShareCountReadThrough(t *testing.T) {
	gdb := setupShareTestDB(t)
	createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	exec := NewShareTransactionExecutor(gdb, nil)
	ctx := context.Background()

	if _, err := exec.ShareCount(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}

	if count, err := exec.ShareCount(ctx, "p1"); err != nil || count != 0 {
		t.Fatalf("expected 0, got %d (%v)", count, err)
	}

	// 绕过执行器直接修改，缓存仍返回旧值
	gdb.Model(&db.Post{}).Where("id = ?", "p1").Update("share_count", 7)
	if count, _ := exec.ShareCount(ctx, "p1"); count != 0 {
		t.Fatalf("expected cached 0, got %d", count)
	}

	exec.ForgetCount("p1")
	if count, _ := exec.ShareCount(ctx, "p1"); count != 7 {
		t.Fatalf("expected reloaded 7, got %d", count)
	}
}

func TestListSharesRange(t *testing.T) {
	gdb := setupShareTestDB(t)
	createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	createTestPost(t, gdb, PostInput{ID: "p2", AuthorID: "author", AllowShare: true})
	posts := NewPostService(gdb)
	ctx := context.Background()

	clock := testNow
	exec := NewShareTransactionExecutor(gdb, nil).WithClock(func() time.Time { return clock })
	for i, postID := range []string{"p1", "p2", "p1", "p1"} {
		clock = testNow.Add(time.Duration(i) * time.Minute)
		snap, _ := posts.Snapshot(ctx, postID)
		if _, err := exec.Execute(ctx, ShareRequest{PostID: postID, SharerID: "u1", Channel: db.ChannelFeed}, snap); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	since := testNow.Add(time.Minute)
	shares, err := exec.ListShares(ctx, ShareFilter{PostID: "p1", Since: &since})
	if err != nil {
		t.Fatalf("list shares: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}
	if !shares[0].CreatedAt.Before(shares[1].CreatedAt) {
		t.Fatalf("expected ascending order, got %v then %v", shares[0].CreatedAt, shares[1].CreatedAt)
	}

	if _, err := exec.Remove(ctx, shares[0].ShareID, "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	active, _ := exec.ListShares(ctx, ShareFilter{PostID: "p1"})
	all, _ := exec.ListShares(ctx, ShareFilter{PostID: "p1", IncludeRemoved: true})
	if len(active) != 2 || len(all) != 3 {
		t.Fatalf("expected 2 active and 3 total, got %d and %d", len(active), len(all))
	}
}

func TestShareCountIgnoresOutOfOrderWrites(t *testing.T) {
	gdb := setupShareTestDB(t)
	post := createTestPost(t, gdb, PostInput{ID: "p1", AuthorID: "author", AllowShare: true})
	exec := NewShareTransactionExecutor(gdb, nil).WithClock(func() time.Time { return testNow })
	ctx := context.Background()

	first, err := exec.Execute(ctx, ShareRequest{PostID: "p1", SharerID: "u1", Channel: db.ChannelFeed, Privacy: db.PrivacyPublic}, post.Snapshot())
	if err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	fresh, err := NewPostService(gdb).Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	second, err := exec.Execute(ctx, ShareRequest{PostID: "p1", SharerID: "u2", Channel: db.ChannelFeed, Privacy: db.PrivacyPublic}, fresh)
	if err != nil {
		t.Fatalf("second execute failed: %v", err)
	}
	if first.NewShareCount != 1 || second.NewShareCount != 2 {
		t.Fatalf("unexpected counts %d and %d", first.NewShareCount, second.NewShareCount)
	}

	// 第一次提交的结果晚到，不能覆盖更新的计数
	exec.setCount("p1", counterState{ShareCount: 1, Version: 1})

	count, err := exec.ShareCount(ctx, "p1")
	if err != nil {
		t.Fatalf("share count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected newer count 2 to be kept, got %d", count)
	}

	exec.setCount("p1", counterState{ShareCount: 3, Version: 3})
	if count, _ := exec.ShareCount(ctx, "p1"); count != 3 {
		t.Fatalf("expected newer version to replace cache, got %d", count)
	}
}
