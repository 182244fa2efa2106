// Package ratelimit 实现按主体、按动作的多窗口滑动计数限流。
//
// 每个 (subject, action) 维护分钟/小时/天三条有序时间戳序列，
// Admit 时惰性清理过期记录，Record 只追加不清理；Reserve 把检查与追加合并为一步。
// 状态按 subject 哈希分片，每个分片独立加锁，单次操作只触及该主体的数据。
package ratelimit

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"
)

// Window 表示一个固定长度的计数窗口。
type Window int

const (
	WindowMinute Window = iota
	WindowHour
	WindowDay
)

// Windows 按检查顺序列出全部窗口，开销最小的分钟窗口在前。
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

// Duration 返回窗口长度。
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

func (w Window) String() string {
	switch w {
	case WindowMinute:
		return "minute"
	case WindowHour:
		return "hour"
	case WindowDay:
		return "day"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// ErrInvalidKey 在 subject 或 action 为空时返回。
var ErrInvalidKey = errors.New("ratelimit: subject and action are required")

// Limits 描述三个窗口各自的容量。
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Max 返回指定窗口的容量。
func (l Limits) Max(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	}
	return 0
}

// Decision 是一次准入判断的结果。
type Decision struct {
	Allowed           bool
	Window            Window
	RetryAfterSeconds int
	Current           int
	Max               int
}

// WindowStatus 描述单个窗口当前的占用情况。
type WindowStatus struct {
	Window         Window
	Current        int
	Max            int
	Remaining      int
	ResetInSeconds int
}

const defaultShards = 32

type actionWindows struct {
	series [3][]time.Time
}

type subjectState struct {
	actions  map[string]*actionWindows
	lastSeen time.Time
}

type shard struct {
	mu       sync.Mutex
	subjects map[string]*subjectState
}

// Limiter 是进程内的滑动窗口限流器，可被并发请求共享。
type Limiter struct {
	limits Limits
	shards []*shard
}

// New 创建 Limiter。shards<=0 时使用默认分片数。
func New(limits Limits, shards int) *Limiter {
	if shards <= 0 {
		shards = defaultShards
	}
	l := &Limiter{limits: limits, shards: make([]*shard, shards)}
	for i := range l.shards {
		l.shards[i] = &shard{subjects: make(map[string]*subjectState)}
	}
	return l
}

// Limits 返回限流器使用的容量配置。
func (l *Limiter) Limits() Limits {
	return l.limits
}

func (l *Limiter) shardFor(subject string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Admit 依次检查分钟、小时、天窗口，遇到第一个超限窗口即返回拒绝。
// 内部异常时放行并返回诊断错误，由调用方记录。
func (l *Limiter) Admit(subject, action string, now time.Time) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{Allowed: true}
			err = fmt.Errorf("ratelimit: admit panicked: %v", r)
		}
	}()

	if subject == "" || action == "" {
		return Decision{Allowed: true}, ErrInvalidKey
	}

	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.lookup(subject, action)
	last := Decision{Allowed: true}
	for _, w := range Windows {
		d := l.evaluate(aw, w, now)
		if !d.Allowed {
			return d, nil
		}
		last = d
	}
	return last, nil
}

// AdmitWindow 只检查单个窗口。
func (l *Limiter) AdmitWindow(subject, action string, w Window, now time.Time) (Decision, error) {
	if subject == "" || action == "" {
		return Decision{Allowed: true}, ErrInvalidKey
	}

	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	return l.evaluate(s.lookup(subject, action), w, now), nil
}

func (l *Limiter) evaluate(aw *actionWindows, w Window, now time.Time) Decision {
	max := l.limits.Max(w)
	if aw == nil {
		return Decision{Allowed: true, Window: w, Max: max}
	}

	series := purge(aw.series[w], now.Add(-w.Duration()))
	aw.series[w] = series

	d := Decision{Allowed: true, Window: w, Current: len(series), Max: max}
	if len(series) >= max {
		d.Allowed = false
		d.RetryAfterSeconds = retryAfter(series[0], w, now)
	}
	return d
}

// Reserve 在同一次加锁内检查三个窗口并占用一个名额，避免并发请求读到相同的计数。
// 被拒绝时不占用名额，release 为空操作；放行后若后续步骤失败，调用 release 归还名额。
// release 可重复调用，只生效一次。
func (l *Limiter) Reserve(subject, action string, now time.Time) (decision Decision, release func(), err error) {
	release = func() {}
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{Allowed: true}
			release = func() {}
			err = fmt.Errorf("ratelimit: reserve panicked: %v", r)
		}
	}()

	if subject == "" || action == "" {
		return Decision{Allowed: true}, release, ErrInvalidKey
	}

	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.lookup(subject, action)
	last := Decision{Allowed: true}
	for _, w := range Windows {
		d := l.evaluate(aw, w, now)
		if !d.Allowed {
			return d, release, nil
		}
		last = d
	}
	s.record(subject, action, now)

	var once sync.Once
	release = func() {
		once.Do(func() { l.unrecord(subject, action, now) })
	}
	return last, release, nil
}

// Record 将一次成功动作追加到三个窗口，不做清理。
func (l *Limiter) Record(subject, action string, at time.Time) error {
	if subject == "" || action == "" {
		return ErrInvalidKey
	}

	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(subject, action, at)
	return nil
}

func (s *shard) record(subject, action string, at time.Time) {
	state, ok := s.subjects[subject]
	if !ok {
		state = &subjectState{actions: make(map[string]*actionWindows)}
		s.subjects[subject] = state
	}
	aw, ok := state.actions[action]
	if !ok {
		aw = &actionWindows{}
		state.actions[action] = aw
	}
	for i := range aw.series {
		aw.series[i] = insertOrdered(aw.series[i], at)
	}
	if at.After(state.lastSeen) {
		state.lastSeen = at
	}
}

// unrecord 从每个窗口删除一条等于 at 的记录。记录已被清理或重置时什么也不做。
func (l *Limiter) unrecord(subject, action string, at time.Time) {
	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.lookup(subject, action)
	if aw == nil {
		return
	}
	for i := range aw.series {
		aw.series[i] = removeOne(aw.series[i], at)
	}
}

// Status 返回每个窗口当前的占用与重置时间。
func (l *Limiter) Status(subject, action string, now time.Time) []WindowStatus {
	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.lookup(subject, action)
	result := make([]WindowStatus, 0, len(Windows))
	for _, w := range Windows {
		d := l.evaluate(aw, w, now)
		status := WindowStatus{Window: w, Current: d.Current, Max: d.Max}
		if status.Remaining = d.Max - d.Current; status.Remaining < 0 {
			status.Remaining = 0
		}
		if aw != nil && len(aw.series[w]) > 0 {
			status.ResetInSeconds = retryAfter(aw.series[w][0], w, now)
		}
		result = append(result, status)
	}
	return result
}

// Reset 清除某个主体的计数；action 为空时清除该主体全部动作。
func (l *Limiter) Reset(subject, action string) {
	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	if action == "" {
		delete(s.subjects, subject)
		return
	}
	if state, ok := s.subjects[subject]; ok {
		delete(state.actions, action)
		if len(state.actions) == 0 {
			delete(s.subjects, subject)
		}
	}
}

// Sweep 移除最近一次活动早于 now-idle 的主体，返回移除数量。
func (l *Limiter) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for subject, state := range s.subjects {
			if !state.lastSeen.After(cutoff) {
				delete(s.subjects, subject)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len 返回当前跟踪的主体数量。
func (l *Limiter) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.subjects)
		s.mu.Unlock()
	}
	return total
}

// Timestamps 返回主体在天窗口内记录的时间戳副本，供行为分析使用。
func (l *Limiter) Timestamps(subject, action string) []time.Time {
	s := l.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()

	aw := s.lookup(subject, action)
	if aw == nil {
		return nil
	}
	out := make([]time.Time, len(aw.series[WindowDay]))
	copy(out, aw.series[WindowDay])
	return out
}

func (s *shard) lookup(subject, action string) *actionWindows {
	state, ok := s.subjects[subject]
	if !ok {
		return nil
	}
	return state.actions[action]
}

// purge 丢弃不晚于 cutoff 的记录，序列保持有序。
func purge(series []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].After(cutoff)
	})
	if idx == 0 {
		return series
	}
	n := copy(series, series[idx:])
	return series[:n]
}

func insertOrdered(series []time.Time, at time.Time) []time.Time {
	if len(series) == 0 || !at.Before(series[len(series)-1]) {
		return append(series, at)
	}
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].After(at)
	})
	series = append(series, time.Time{})
	copy(series[idx+1:], series[idx:])
	series[idx] = at
	return series
}

func removeOne(series []time.Time, at time.Time) []time.Time {
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Before(at)
	})
	if idx == len(series) || !series[idx].Equal(at) {
		return series
	}
	return append(series[:idx], series[idx+1:]...)
}

func retryAfter(oldest time.Time, w Window, now time.Time) int {
	wait := oldest.Add(w.Duration()).Sub(now).Seconds()
	secs := int(math.Ceil(wait))
	if secs < 1 {
		secs = 1
	}
	return secs
}
