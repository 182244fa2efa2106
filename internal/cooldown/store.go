// Package cooldown 维护按主体的临时冷却（暂停分享），与窗口计数互相独立。
package cooldown

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Kind 标识冷却的触发来源。
type Kind string

const (
	KindAutomation Kind = "automation"
	KindSpam       Kind = "spam"
	KindBurst      Kind = "burst"
)

// checkOrder 决定 Check 扫描冷却的顺序。
var checkOrder = []Kind{KindAutomation, KindSpam, KindBurst}

const (
	// BurstDuration 为突发行为（5 分钟内 ≥10 次）的固定冷却时长。
	BurstDuration = 5 * time.Minute
	// AutomationDuration 为检测到机器化固定间隔行为时的冷却时长。
	AutomationDuration = 30 * time.Minute
)

// Cooldown 表示一条生效中的冷却。
type Cooldown struct {
	Subject   string
	Kind      Kind
	Reason    string
	StartedAt time.Time
	ExpiresAt time.Time
}

// Status 是 Check 的返回值。
type Status struct {
	Allowed           bool
	Kind              Kind
	Reason            string
	RetryAfterSeconds int
	ExpiresAt         time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]map[Kind]Cooldown
}

// Store 是进程内的冷却存储，可并发使用。
type Store struct {
	shards []*shard
}

// NewStore 创建 Store。
func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = 16
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]map[Kind]Cooldown)}
	}
	return s
}

func (s *Store) shardFor(subject string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Apply 设置冷却；同类冷却直接覆盖，不叠加。
func (s *Store) Apply(subject string, kind Kind, duration time.Duration, reason string, now time.Time) Cooldown {
	cd := Cooldown{
		Subject:   subject,
		Kind:      kind,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	}

	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byKind, ok := sh.entries[subject]
	if !ok {
		byKind = make(map[Kind]Cooldown)
		sh.entries[subject] = byKind
	}
	byKind[kind] = cd
	return cd
}

// Check 返回第一条未过期的冷却，并顺带清理遇到的过期项。
func (s *Store) Check(subject string, now time.Time) Status {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byKind, ok := sh.entries[subject]
	if !ok {
		return Status{Allowed: true}
	}

	var active *Cooldown
	for _, kind := range orderedKinds(byKind) {
		cd := byKind[kind]
		if !now.Before(cd.ExpiresAt) {
			delete(byKind, kind)
			continue
		}
		if active == nil {
			c := cd
			active = &c
		}
	}
	if len(byKind) == 0 {
		delete(sh.entries, subject)
	}
	if active == nil {
		return Status{Allowed: true}
	}

	return Status{
		Allowed:           false,
		Kind:              active.Kind,
		Reason:            active.Reason,
		RetryAfterSeconds: retryAfter(active.ExpiresAt, now),
		ExpiresAt:         active.ExpiresAt,
	}
}

// Active 返回主体所有未过期冷却的副本，不做清理。
func (s *Store) Active(subject string, now time.Time) []Cooldown {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var result []Cooldown
	for _, kind := range orderedKinds(sh.entries[subject]) {
		cd := sh.entries[subject][kind]
		if now.Before(cd.ExpiresAt) {
			result = append(result, cd)
		}
	}
	return result
}

// Clear 移除主体的全部冷却。
func (s *Store) Clear(subject string) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	delete(sh.entries, subject)
	sh.mu.Unlock()
}

// Sweep 清理所有过期冷却，返回清理数量。
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for subject, byKind := range sh.entries {
			for kind, cd := range byKind {
				if !now.Before(cd.ExpiresAt) {
					delete(byKind, kind)
					removed++
				}
			}
			if len(byKind) == 0 {
				delete(sh.entries, subject)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len 返回仍有冷却记录的主体数量。
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// SpamDuration 按垃圾内容置信度选择冷却时长：5、10、30、60 分钟。
func SpamDuration(confidence float64) time.Duration {
	switch {
	case confidence >= 1.0:
		return 60 * time.Minute
	case confidence >= 0.8:
		return 30 * time.Minute
	case confidence >= 0.65:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func orderedKinds(byKind map[Kind]Cooldown) []Kind {
	kinds := make([]Kind, 0, len(byKind))
	for _, k := range checkOrder {
		if _, ok := byKind[k]; ok {
			kinds = append(kinds, k)
		}
	}
	// 自定义类型排在内置类型之后
	for k := range byKind {
		if !isBuiltin(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func isBuiltin(k Kind) bool {
	for _, b := range checkOrder {
		if b == k {
			return true
		}
	}
	return false
}

func retryAfter(expiresAt, now time.Time) int {
	secs := int(math.Ceil(expiresAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
