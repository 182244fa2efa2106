package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/cooldown"
	"github.com/sharegate/internal/metrics"
	"github.com/sharegate/internal/ratelimit"
	"github.com/sharegate/internal/spam"
)

const (
	defaultSweepInterval = time.Minute
	defaultIdleRetention = 24 * time.Hour
)

// SweepStats 是一轮清理移除的条目数。
type SweepStats struct {
	Subjects  int
	History   int
	Cooldowns int
	Events    int
}

// Sweeper 周期性清理空闲主体、过期冷却与超出保留期的分析事件，限制内存占用。
type Sweeper struct {
	limiter   *ratelimit.Limiter
	cooldowns *cooldown.Store
	history   *spam.History
	analytics *analytics.Aggregator
	interval  time.Duration
	idle      time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewSweeper 创建 Sweeper；interval 与 idle 非正时分别取 60 秒与 24 小时。
func NewSweeper(limiter *ratelimit.Limiter, cooldowns *cooldown.Store, history *spam.History, agg *analytics.Aggregator, interval, idle time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if idle <= 0 {
		idle = defaultIdleRetention
	}
	return &Sweeper{
		limiter:   limiter,
		cooldowns: cooldowns,
		history:   history,
		analytics: agg,
		interval:  interval,
		idle:      idle,
		now:       time.Now,
		log:       log,
	}
}

// Run 按固定间隔执行清理，直到 ctx 取消。
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("idle", s.idle).Msg("sweeper starting")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			stats := s.SweepOnce(s.now())
			if stats != (SweepStats{}) {
				s.log.Debug().
					Int("subjects", stats.Subjects).
					Int("history", stats.History).
					Int("cooldowns", stats.Cooldowns).
					Int("events", stats.Events).
					Msg("sweep finished")
			}
		}
	}
}

// SweepOnce 执行一轮清理。
func (s *Sweeper) SweepOnce(now time.Time) SweepStats {
	var stats SweepStats
	if s.limiter != nil {
		stats.Subjects = s.limiter.Sweep(now, s.idle)
		metrics.SweptEntries.WithLabelValues("limiter").Add(float64(stats.Subjects))
	}
	if s.history != nil {
		stats.History = s.history.Sweep(now, s.idle)
		metrics.SweptEntries.WithLabelValues("history").Add(float64(stats.History))
	}
	if s.cooldowns != nil {
		stats.Cooldowns = s.cooldowns.Sweep(now)
		metrics.SweptEntries.WithLabelValues("cooldown").Add(float64(stats.Cooldowns))
	}
	if s.analytics != nil {
		stats.Events = s.analytics.Prune(now)
		metrics.SweptEntries.WithLabelValues("analytics").Add(float64(stats.Events))
	}
	return stats
}
