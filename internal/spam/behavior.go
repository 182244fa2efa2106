package spam

import (
	"math"
	"time"
)

const (
	burstWindow    = 5 * time.Minute
	burstThreshold = 10

	automationWindow       = time.Hour
	automationMinIntervals = 5
	automationSample       = 10
	automationMaxVariation = 0.1
)

// Behavior 描述主体近期的行为特征。
type Behavior struct {
	RecentCount       int
	Burst             bool
	Automated         bool
	MeanInterval      time.Duration
	IntervalVariation float64
}

// AnalyzeBehavior 基于历史动作时间戳检测突发与机器化行为。
// 突发：5 分钟内已有 ≥10 次动作；机器化：最近至少 5 个间隔的变异系数 < 0.1。
func AnalyzeBehavior(timestamps []time.Time, now time.Time) Behavior {
	var b Behavior

	recent := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(now) {
			continue
		}
		if now.Sub(ts) <= burstWindow {
			b.RecentCount++
		}
		if now.Sub(ts) <= automationWindow {
			recent = append(recent, ts)
		}
	}
	b.Burst = b.RecentCount >= burstThreshold

	if len(recent) > automationSample {
		recent = recent[len(recent)-automationSample:]
	}
	if len(recent) < automationMinIntervals+1 {
		return b
	}

	intervals := make([]float64, 0, len(recent)-1)
	sum := 0.0
	for i := 1; i < len(recent); i++ {
		d := recent[i].Sub(recent[i-1]).Seconds()
		intervals = append(intervals, d)
		sum += d
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return b
	}

	variance := 0.0
	for _, d := range intervals {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(intervals))

	b.MeanInterval = time.Duration(mean * float64(time.Second))
	b.IntervalVariation = math.Sqrt(variance) / mean
	b.Automated = b.IntervalVariation < automationMaxVariation
	return b
}
