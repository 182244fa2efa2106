package spam

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	defaultHistoryShards = 16
	defaultHistoryLimit  = 50
)

type historyShard struct {
	mu      sync.Mutex
	entries map[string][]HistoryEntry
}

// History 保存每个主体近期的分享留言与目标，用于上下文评分。
// 每个主体最多保留 limit 条，按时间追加。
type History struct {
	limit  int
	shards []*historyShard
}

// NewHistory 创建 History；limit<=0 时每个主体保留 50 条。
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	h := &History{limit: limit, shards: make([]*historyShard, defaultHistoryShards)}
	for i := range h.shards {
		h.shards[i] = &historyShard{entries: make(map[string][]HistoryEntry)}
	}
	return h
}

func (h *History) shardFor(subject string) *historyShard {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(subject))
	return h.shards[hash.Sum32()%uint32(len(h.shards))]
}

// Record 追加一条记录，超出上限时丢弃最旧的。
func (h *History) Record(subject string, entry HistoryEntry) {
	targets := make([]string, len(entry.Targets))
	copy(targets, entry.Targets)
	entry.Targets = targets

	sh := h.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	list := append(sh.entries[subject], entry)
	if over := len(list) - h.limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	sh.entries[subject] = list
}

// Recent 返回 within 时间内的记录副本。
func (h *History) Recent(subject string, now time.Time, within time.Duration) []HistoryEntry {
	sh := h.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-within)
	var result []HistoryEntry
	for _, e := range sh.entries[subject] {
		if e.At.After(cutoff) {
			result = append(result, e)
		}
	}
	return result
}

// Reset 清除主体的全部记录。
func (h *History) Reset(subject string) {
	sh := h.shardFor(subject)
	sh.mu.Lock()
	delete(sh.entries, subject)
	sh.mu.Unlock()
}

// Sweep 移除最后一条记录早于 now-idle 的主体。
func (h *History) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	removed := 0
	for _, sh := range h.shards {
		sh.mu.Lock()
		for subject, list := range sh.entries {
			if len(list) == 0 || !list[len(list)-1].At.After(cutoff) {
				delete(sh.entries, subject)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
