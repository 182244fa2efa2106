package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)

func success(post, sharer, channel string, targets int, msg bool, at time.Time) Event {
	return Event{Type: EventSuccess, PostID: post, SharerID: sharer, Channel: channel, TargetCount: targets, HasMessage: msg, Timestamp: at}
}

func failure(post, sharer, kind string, at time.Time) Event {
	return Event{Type: EventFailure, PostID: post, SharerID: sharer, ErrorKind: kind, Timestamp: at}
}

func TestSuccessRate(t *testing.T) {
	a := New(0, 0)

	empty := a.Metrics(PostScope("p1"), 30, now)
	assert.Equal(t, 100.0, empty.SuccessRate)
	assert.Zero(t, empty.VelocityPerHour)

	for i := 0; i < 3; i++ {
		a.Record(success("p1", "u1", "feed", 0, false, now.Add(-time.Duration(i)*time.Minute)))
	}
	a.Record(failure("p1", "u2", "rate_limit", now.Add(-5*time.Minute)))

	m := a.Metrics(PostScope("p1"), 30, now)
	assert.Equal(t, 3, m.Successes)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 75.0, m.SuccessRate)
}

func TestMetricsFold(t *testing.T) {
	a := New(0, 0)
	day := func(d, h int) time.Time { return time.Date(2024, 7, d, h, 0, 0, 0, time.UTC) }

	a.Record(success("p1", "u1", "friends", 3, true, day(8, 9)))
	a.Record(success("p1", "u2", "friends", 2, false, day(8, 9)))
	a.Record(success("p1", "u1", "feed", 0, true, day(9, 14)))
	a.Record(success("p1", "u3", "groups", 1, false, day(9, 9)))
	a.Record(success("p1", "u3", "groups", 1, true, day(10, 11)))
	a.Record(failure("p1", "u4", "spam_rejected", day(10, 1)))
	a.Record(Event{Type: EventInteraction, PostID: "p1", Timestamp: day(10, 2)})
	a.Record(success("p2", "u1", "feed", 0, false, day(10, 3)))

	m := a.Metrics(PostScope("p1"), 7, now)
	assert.Equal(t, "p1", m.PostID)
	assert.Equal(t, 5, m.Successes)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 1, m.Interactions)
	assert.Equal(t, map[string]int{"friends": 2, "feed": 1, "groups": 2}, m.ChannelBreakdown)
	assert.Equal(t, 3, m.UniqueSharers)
	assert.Equal(t, 1.4, m.AvgTargets)
	assert.Equal(t, 60.0, m.MessageUsageRate)

	require.Len(t, m.PeakHours, 3)
	assert.Equal(t, PeakHour{Hour: 9, Count: 3, Percentage: 60}, m.PeakHours[0])
	assert.Equal(t, 1, m.PeakHours[1].Count)

	// 首尾事件相隔 50 小时
	assert.Equal(t, 0.1, m.VelocityPerHour)

	require.Len(t, m.Timeline, 8)
	last := m.Timeline[len(m.Timeline)-1]
	assert.Equal(t, "2024-07-10", last.Date)
	assert.Equal(t, 1, last.Successes)
	assert.Equal(t, 1, last.Failures)
}

func TestVelocityFloorsAtOneHour(t *testing.T) {
	a := New(0, 0)
	for i := 0; i < 4; i++ {
		a.Record(success("p1", "u1", "feed", 0, false, now.Add(-time.Duration(i)*time.Second)))
	}
	m := a.Metrics(SharerScope("u1"), 1, now)
	assert.Equal(t, "u1", m.SharerID)
	assert.Equal(t, 4.0, m.VelocityPerHour)
}

func TestMetricsRangeExcludesOldEvents(t *testing.T) {
	a := New(0, 0)
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-10*24*time.Hour)))
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-time.Hour)))

	assert.Equal(t, 1, a.Metrics(PostScope("p1"), 7, now).Successes)
	assert.Equal(t, 2, a.Metrics(PostScope("p1"), 30, now).Successes)
}

func TestMetricsCacheAndInvalidate(t *testing.T) {
	a := New(0, 0).WithCacheTTL(time.Hour)
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-time.Hour)))
	require.Equal(t, 1, a.Metrics(PostScope("p1"), 30, now).Successes)

	// 直接追加绕过 Record 的失效逻辑，验证缓存命中
	a.mu.Lock()
	a.events = append(a.events, success("p1", "u2", "feed", 0, false, now.Add(-time.Minute)))
	a.mu.Unlock()
	assert.Equal(t, 1, a.Metrics(PostScope("p1"), 30, now).Successes)

	a.Invalidate(PostScope("p1"))
	assert.Equal(t, 2, a.Metrics(PostScope("p1"), 30, now).Successes)

	a.Record(success("p1", "u3", "feed", 0, false, now))
	assert.Equal(t, 3, a.Metrics(PostScope("p1"), 30, now).Successes, "Record invalidates the scope")
}

func TestRecordKeepsTimeOrderAndCap(t *testing.T) {
	a := New(0, 3)
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-1*time.Minute)))
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-3*time.Minute)))
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-2*time.Minute)))
	a.Record(success("p1", "u1", "feed", 0, false, now))

	require.Equal(t, 3, a.Len())
	a.mu.RLock()
	defer a.mu.RUnlock()
	assert.Equal(t, now.Add(-2*time.Minute), a.events[0].Timestamp)
	assert.Equal(t, now, a.events[2].Timestamp)
}

func TestPrune(t *testing.T) {
	a := New(48*time.Hour, 0)
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-72*time.Hour)))
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-49*time.Hour)))
	a.Record(success("p1", "u1", "feed", 0, false, now.Add(-time.Hour)))

	assert.Equal(t, 2, a.Prune(now))
	assert.Equal(t, 1, a.Len())
	assert.Zero(t, a.Prune(now))
}

func TestSpamStats(t *testing.T) {
	a := New(0, 0)
	a.Record(Event{Type: EventSuccess, PostID: "p1", SharerID: "u1", SpamTier: "MINIMAL", Timestamp: now.Add(-time.Hour)})
	a.Record(Event{Type: EventSuccess, PostID: "p1", SharerID: "u1", SpamTier: "LOW", Timestamp: now.Add(-50 * time.Minute)})
	a.Record(Event{Type: EventFailure, PostID: "p1", SharerID: "u2", SpamTier: "MEDIUM", ErrorKind: "spam_rejected",
		SpamReasons: []string{"keyword:free money", "pattern:url"}, Timestamp: now.Add(-40 * time.Minute)})
	a.Record(Event{Type: EventFailure, PostID: "p1", SharerID: "u3", SpamTier: "HIGH", ErrorKind: "spam_rejected",
		SpamReasons: []string{"pattern:url"}, Timestamp: now.Add(-30 * time.Minute)})
	a.Record(failure("p1", "u4", "rate_limit", now.Add(-20*time.Minute)))
	a.Record(Event{Type: EventFailure, SpamTier: "HIGH", ErrorKind: "spam_rejected", Timestamp: now.Add(-48 * time.Hour)})

	stats := a.SpamStats(now.Add(-24*time.Hour), now)
	assert.Equal(t, 4, stats.Analyzed)
	assert.Equal(t, 2, stats.Detected)
	assert.Equal(t, 50.0, stats.DetectionRate)
	assert.Equal(t, map[string]int{"MINIMAL": 1, "LOW": 1, "MEDIUM": 1, "HIGH": 1}, stats.ByTier)
	require.Len(t, stats.TopReasons, 2)
	assert.Equal(t, ReasonCount{Reason: "pattern:url", Count: 2}, stats.TopReasons[0])
}

func TestParseDays(t *testing.T) {
	tests := map[string]int{"": 30, "abc": 30, "-1": 30, "7": 7, "365": 90}
	for raw, want := range tests {
		assert.Equal(t, want, ParseDays(raw), raw)
	}
}

func TestMetricsCacheStaysBounded(t *testing.T) {
	a := New(0, 0)
	for i := 0; i < 10000; i++ {
		m := a.Metrics(SharerScope(fmt.Sprintf("ghost-%d", i)), 30, now)
		require.Zero(t, m.Successes)
	}
	assert.Zero(t, a.CacheLen(), "scopes without events are not cached")

	for i := 0; i < maxCachedScopes+10; i++ {
		a.Record(success("p1", fmt.Sprintf("u%d", i), "feed", 0, false, now.Add(-time.Minute)))
	}
	for i := 0; i < maxCachedScopes+10; i++ {
		a.Metrics(SharerScope(fmt.Sprintf("u%d", i)), 30, now)
	}
	assert.Equal(t, maxCachedScopes, a.CacheLen())

	assert.Zero(t, a.Prune(now.Add(30*time.Second)), "fresh entries survive the sweep")
	assert.Equal(t, maxCachedScopes, a.CacheLen())

	for h := 1; h <= 2; h++ {
		a.Prune(now.Add(time.Duration(h) * time.Hour))
	}
	assert.Zero(t, a.CacheLen(), "expired entries are swept")
	assert.Equal(t, maxCachedScopes+10, a.Len())
}
