// Package analytics 在进程内保留有限窗口的分享事件，并按需计算聚合指标。
package analytics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// EventType 区分分享成功、失败与一般互动。
type EventType string

const (
	EventSuccess     EventType = "success"
	EventFailure     EventType = "failure"
	EventInteraction EventType = "interaction"
)

const (
	DefaultRetention = 90 * 24 * time.Hour
	DefaultMaxEvents = 50000
	DefaultDays      = 30

	defaultCacheTTL = time.Minute
	maxCachedScopes = 4096
	topPeakHours    = 3
	topSpamReasons  = 5
)

// Event 是一次分享尝试或互动。
type Event struct {
	Type        EventType
	PostID      string
	SharerID    string
	Channel     string
	TargetCount int
	HasMessage  bool
	Timestamp   time.Time
	ErrorKind   string
	SpamTier    string
	SpamReasons []string
}

// Scope 指定按文章或按分享者聚合，二者只取其一，PostID 优先。
type Scope struct {
	PostID   string
	SharerID string
}

// PostScope 返回文章维度的 Scope。
func PostScope(postID string) Scope { return Scope{PostID: postID} }

// SharerScope 返回分享者维度的 Scope。
func SharerScope(sharerID string) Scope { return Scope{SharerID: sharerID} }

func (s Scope) key() string {
	if s.PostID != "" {
		return "post:" + s.PostID
	}
	return "sharer:" + s.SharerID
}

// String 便于日志输出。
func (s Scope) String() string {
	return s.key()
}

func (s Scope) match(e Event) bool {
	if s.PostID != "" {
		return e.PostID == s.PostID
	}
	return e.SharerID == s.SharerID
}

// DayBucket 是按自然日（UTC）聚合的时间线条目。
type DayBucket struct {
	Date      string `json:"date"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}

// PeakHour 是某个小时（UTC）的成功分享数及占比。
type PeakHour struct {
	Hour       int     `json:"hour"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Metrics 是某个范围内重新计算得到的聚合指标。
type Metrics struct {
	PostID           string         `json:"postId,omitempty"`
	SharerID         string         `json:"sharerId,omitempty"`
	Days             int            `json:"days"`
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	Successes        int            `json:"successes"`
	Failures         int            `json:"failures"`
	Interactions     int            `json:"interactions"`
	SuccessRate      float64        `json:"successRate"`
	ChannelBreakdown map[string]int `json:"channelBreakdown"`
	Timeline         []DayBucket    `json:"timeline"`
	PeakHours        []PeakHour     `json:"peakHours"`
	UniqueSharers    int            `json:"uniqueSharers"`
	AvgTargets       float64        `json:"avgTargets"`
	MessageUsageRate float64        `json:"messageUsageRate"`
	VelocityPerHour  float64        `json:"velocityPerHour"`
}

// ReasonCount 是某个垃圾判定理由出现的次数。
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// SpamStats 汇总时间段内的垃圾检测情况。
type SpamStats struct {
	Since         time.Time      `json:"since"`
	Analyzed      int            `json:"analyzed"`
	Detected      int            `json:"detected"`
	DetectionRate float64        `json:"detectionRate"`
	ByTier        map[string]int `json:"byTier"`
	TopReasons    []ReasonCount  `json:"topReasons"`
}

type cachedMetrics struct {
	metrics    Metrics
	computedAt time.Time
}

// Aggregator 保存按时间排序的事件，超出保留期或数量上限时从头部淘汰。
type Aggregator struct {
	mu        sync.RWMutex
	events    []Event
	retention time.Duration
	maxEvents int

	cacheMu  sync.Mutex
	cache    map[string]map[int]cachedMetrics
	cacheTTL time.Duration
}

// New 创建 Aggregator，参数非正时使用 90 天与 50000 条的默认值。
func New(retention time.Duration, maxEvents int) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Aggregator{
		retention: retention,
		maxEvents: maxEvents,
		cache:     make(map[string]map[int]cachedMetrics),
		cacheTTL:  defaultCacheTTL,
	}
}

// WithCacheTTL 调整指标缓存的有效期。
func (a *Aggregator) WithCacheTTL(d time.Duration) *Aggregator {
	if d <= 0 {
		return a
	}
	a.cacheTTL = d
	return a
}

// Record 追加事件，并使相关文章和分享者的缓存失效。
func (a *Aggregator) Record(e Event) {
	if len(e.SpamReasons) > 0 {
		reasons := make([]string, len(e.SpamReasons))
		copy(reasons, e.SpamReasons)
		e.SpamReasons = reasons
	}

	a.mu.Lock()
	n := len(a.events)
	if n == 0 || !e.Timestamp.Before(a.events[n-1].Timestamp) {
		a.events = append(a.events, e)
	} else {
		// 乱序到达时保持时间有序
		idx := sort.Search(n, func(i int) bool { return a.events[i].Timestamp.After(e.Timestamp) })
		a.events = append(a.events, Event{})
		copy(a.events[idx+1:], a.events[idx:])
		a.events[idx] = e
	}
	if over := len(a.events) - a.maxEvents; over > 0 {
		a.events = append(a.events[:0:0], a.events[over:]...)
	}
	a.mu.Unlock()

	if e.PostID != "" {
		a.Invalidate(PostScope(e.PostID))
	}
	if e.SharerID != "" {
		a.Invalidate(SharerScope(e.SharerID))
	}
}

// Invalidate 丢弃某个范围的全部缓存指标。
func (a *Aggregator) Invalidate(scope Scope) {
	a.cacheMu.Lock()
	delete(a.cache, scope.key())
	a.cacheMu.Unlock()
}

// Prune 淘汰超出保留期的事件，返回淘汰数量；同时清理过期的指标缓存。
func (a *Aggregator) Prune(now time.Time) int {
	cutoff := now.Add(-a.retention)

	a.mu.Lock()
	idx := sort.Search(len(a.events), func(i int) bool { return a.events[i].Timestamp.After(cutoff) })
	if over := len(a.events) - idx - a.maxEvents; over > 0 {
		idx += over
	}
	if idx > 0 {
		a.events = append(a.events[:0:0], a.events[idx:]...)
	}
	a.mu.Unlock()

	a.cacheMu.Lock()
	if idx > 0 {
		a.cache = make(map[string]map[int]cachedMetrics)
	} else {
		a.evictExpiredLocked(now)
	}
	a.cacheMu.Unlock()
	return idx
}

// evictExpiredLocked 删除超过有效期的缓存条目，调用方持有 cacheMu。
func (a *Aggregator) evictExpiredLocked(now time.Time) {
	for key, byDays := range a.cache {
		for days, entry := range byDays {
			if age := now.Sub(entry.computedAt); age < 0 || age >= a.cacheTTL {
				delete(byDays, days)
			}
		}
		if len(byDays) == 0 {
			delete(a.cache, key)
		}
	}
}

// CacheLen 返回当前缓存的范围数量。
func (a *Aggregator) CacheLen() int {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	return len(a.cache)
}

// Len 返回当前保留的事件数。
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

// NormalizeDays 将天数限制在 1..90，非正值取默认 30 天。
func NormalizeDays(days int) int {
	maxDays := int(DefaultRetention / (24 * time.Hour))
	switch {
	case days <= 0:
		return DefaultDays
	case days > maxDays:
		return maxDays
	default:
		return days
	}
}

// Metrics 计算 (now-days, now] 范围内的聚合指标，结果在缓存有效期内复用。
func (a *Aggregator) Metrics(scope Scope, days int, now time.Time) Metrics {
	days = NormalizeDays(days)
	key := scope.key()

	a.cacheMu.Lock()
	if entry, ok := a.cache[key][days]; ok {
		age := now.Sub(entry.computedAt)
		if age >= 0 && age < a.cacheTTL {
			a.cacheMu.Unlock()
			return entry.metrics
		}
	}
	a.cacheMu.Unlock()

	from := now.Add(-time.Duration(days) * 24 * time.Hour)
	a.mu.RLock()
	selected := a.window(from, now, scope.match)
	a.mu.RUnlock()

	m := compute(selected, days, from, now)
	m.PostID = scope.PostID
	if scope.PostID == "" {
		m.SharerID = scope.SharerID
	}

	// 没有事件的范围不缓存，任意 id 的查询不会撑大缓存
	if len(selected) == 0 {
		return m
	}

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cache[key] == nil {
		if len(a.cache) >= maxCachedScopes {
			a.evictExpiredLocked(now)
		}
		if len(a.cache) >= maxCachedScopes {
			return m
		}
		a.cache[key] = make(map[int]cachedMetrics)
	}
	a.cache[key][days] = cachedMetrics{metrics: m, computedAt: now}
	return m
}

// SpamStats 汇总 (since, now] 内经过垃圾检测的事件。
func (a *Aggregator) SpamStats(since, now time.Time) SpamStats {
	a.mu.RLock()
	selected := a.window(since, now, func(e Event) bool { return e.SpamTier != "" || e.ErrorKind == "spam_rejected" })
	a.mu.RUnlock()

	stats := SpamStats{Since: since, ByTier: map[string]int{}, TopReasons: []ReasonCount{}}
	reasons := map[string]int{}
	for _, e := range selected {
		stats.Analyzed++
		if e.SpamTier != "" {
			stats.ByTier[e.SpamTier]++
		}
		if e.ErrorKind != "spam_rejected" {
			continue
		}
		stats.Detected++
		for _, r := range e.SpamReasons {
			reasons[r]++
		}
	}
	if stats.Analyzed > 0 {
		stats.DetectionRate = round(float64(stats.Detected)/float64(stats.Analyzed)*100, 1)
	}

	for r, c := range reasons {
		stats.TopReasons = append(stats.TopReasons, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(stats.TopReasons, func(i, j int) bool {
		if stats.TopReasons[i].Count != stats.TopReasons[j].Count {
			return stats.TopReasons[i].Count > stats.TopReasons[j].Count
		}
		return stats.TopReasons[i].Reason < stats.TopReasons[j].Reason
	})
	if len(stats.TopReasons) > topSpamReasons {
		stats.TopReasons = stats.TopReasons[:topSpamReasons]
	}
	return stats
}

// window 需在持有读锁时调用。
func (a *Aggregator) window(from, to time.Time, match func(Event) bool) []Event {
	start := sort.Search(len(a.events), func(i int) bool { return a.events[i].Timestamp.After(from) })
	var out []Event
	for _, e := range a.events[start:] {
		if e.Timestamp.After(to) {
			break
		}
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func compute(events []Event, days int, from, to time.Time) Metrics {
	m := Metrics{
		Days:             days,
		From:             from,
		To:               to,
		ChannelBreakdown: map[string]int{},
		PeakHours:        []PeakHour{},
	}

	timeline := make(map[string]*DayBucket, days+1)
	m.Timeline = make([]DayBucket, 0, days+1)
	for d := truncateDay(from); !d.After(to); d = d.Add(24 * time.Hour) {
		m.Timeline = append(m.Timeline, DayBucket{Date: d.Format(time.DateOnly)})
	}
	for i := range m.Timeline {
		timeline[m.Timeline[i].Date] = &m.Timeline[i]
	}

	var (
		hours       [24]int
		sharers     = map[string]struct{}{}
		targets     int
		withMessage int
		first, last time.Time
	)
	for _, e := range events {
		if first.IsZero() || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		bucket := timeline[e.Timestamp.UTC().Format(time.DateOnly)]

		switch e.Type {
		case EventSuccess:
			m.Successes++
			if e.Channel != "" {
				m.ChannelBreakdown[e.Channel]++
			}
			hours[e.Timestamp.UTC().Hour()]++
			if e.SharerID != "" {
				sharers[e.SharerID] = struct{}{}
			}
			targets += e.TargetCount
			if e.HasMessage {
				withMessage++
			}
			if bucket != nil {
				bucket.Successes++
			}
		case EventFailure:
			m.Failures++
			if bucket != nil {
				bucket.Failures++
			}
		default:
			m.Interactions++
		}
	}

	attempts := m.Successes + m.Failures
	m.SuccessRate = 100
	if attempts > 0 {
		m.SuccessRate = round(float64(m.Successes)/float64(attempts)*100, 1)
	}

	m.UniqueSharers = len(sharers)
	if m.Successes > 0 {
		m.AvgTargets = round(float64(targets)/float64(m.Successes), 1)
		m.MessageUsageRate = round(float64(withMessage)/float64(m.Successes)*100, 1)

		span := last.Sub(first).Hours()
		if span < 1 {
			span = 1
		}
		m.VelocityPerHour = round(float64(m.Successes)/span, 2)

		for h, c := range hours {
			if c > 0 {
				m.PeakHours = append(m.PeakHours, PeakHour{
					Hour:       h,
					Count:      c,
					Percentage: round(float64(c)/float64(m.Successes)*100, 1),
				})
			}
		}
		sort.SliceStable(m.PeakHours, func(i, j int) bool { return m.PeakHours[i].Count > m.PeakHours[j].Count })
		if len(m.PeakHours) > topPeakHours {
			m.PeakHours = m.PeakHours[:topPeakHours]
		}
	}
	return m
}

func truncateDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ParseDays 解析查询参数中的天数，非法值返回默认值。
func ParseDays(raw string) int {
	if raw == "" {
		return DefaultDays
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultDays
	}
	return NormalizeDays(n)
}
