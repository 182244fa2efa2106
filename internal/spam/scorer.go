// Package spam 提供基于启发式规则的分享留言垃圾内容评分。
//
// Scorer 本身不持有可变状态，只读取当前规则快照；相同的输入总是得到相同的结果。
// 是否施加冷却由调用方根据返回的 Tier 决定。
package spam

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

// Tier 是风险分级，用于选择冷却力度。
type Tier string

const (
	TierMinimal Tier = "MINIMAL"
	TierLow     Tier = "LOW"
	TierMedium  Tier = "MEDIUM"
	TierHigh    Tier = "HIGH"
)

const (
	// SpamThreshold 以上判定为垃圾内容。
	SpamThreshold = 50

	characterViolationScore = 10
	patternScore            = 15
	keywordScore            = 20
	repeatedSequenceScore   = 10
	punctuationRunScore     = 5
	nearDuplicateScore      = 15
	frequencyScore          = 25
	repeatedTargetsScore    = 20

	nearDuplicateThreshold = 0.8
	frequencyWindow        = 5 * time.Minute
	frequencyLimit         = 10
	targetRepeatWindow     = 10 * time.Minute
)

// TierForScore 按分数返回风险分级。
func TierForScore(score int) Tier {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 50:
		return TierMedium
	case score >= 25:
		return TierLow
	default:
		return TierMinimal
	}
}

// CharacterStats 记录字符分布。
type CharacterStats struct {
	Length           int
	UppercaseRatio   float64
	DigitRatio       float64
	PunctuationRatio float64
	WhitespaceRatio  float64
}

// Details 汇总各子分析的中间结果。
type Details struct {
	CharacterStats  CharacterStats
	PatternMatches  map[string]int
	KeywordMatches  []string
	RepetitionScore int
	ContextScore    int
}

// Analysis 是一次评分的完整结果。
type Analysis struct {
	Score      int
	Confidence float64
	IsSpam     bool
	Tier       Tier
	Reasons    []string
	Details    Details
}

// HistoryEntry 是同一主体近期的一次分享。
type HistoryEntry struct {
	Message string
	Targets []string
	At      time.Time
}

// Context 提供评分所需的近期上下文，可为空。
type Context struct {
	Now     time.Time
	Targets []string
	History []HistoryEntry
}

// Scorer 持有规则快照指针，规则通过 UpdateRules 以写时复制方式替换。
type Scorer struct {
	rules atomic.Pointer[Rules]
}

// NewScorer 使用内置规则创建 Scorer。
func NewScorer() *Scorer {
	return NewScorerWithRules(DefaultRules())
}

// NewScorerWithRules 使用指定规则创建 Scorer。
func NewScorerWithRules(rules *Rules) *Scorer {
	s := &Scorer{}
	s.rules.Store(rules)
	return s
}

// Rules 返回当前规则快照。
func (s *Scorer) Rules() *Rules {
	return s.rules.Load()
}

// UpdateRules 追加并去重关键词与模式，原子替换快照。
func (s *Scorer) UpdateRules(keywords, patterns []string) (*Rules, error) {
	for {
		current := s.rules.Load()
		next, err := current.With(keywords, patterns)
		if err != nil {
			return nil, err
		}
		if s.rules.CompareAndSwap(current, next) {
			return next, nil
		}
	}
}

// Analyze 对留言评分。ctx 为 nil 时跳过上下文分析。
func (s *Scorer) Analyze(message string, ctx *Context) Analysis {
	return AnalyzeWithRules(s.rules.Load(), message, ctx)
}

// AnalyzeWithRules 是纯函数版本的评分。
func AnalyzeWithRules(rules *Rules, message string, ctx *Context) Analysis {
	var (
		score   int
		reasons []string
		details = Details{PatternMatches: map[string]int{}}
	)

	stats, charViolations := analyzeCharacters(message)
	details.CharacterStats = stats
	for _, v := range charViolations {
		score += characterViolationScore
		reasons = append(reasons, v)
	}

	for _, p := range rules.patterns {
		if n := p.Count(message); n > 0 {
			details.PatternMatches[p.Name] = n
			score += patternScore * n
			reasons = append(reasons, "pattern:"+p.Name)
		}
	}

	lower := strings.ToLower(message)
	for _, kw := range rules.keywords {
		if n := strings.Count(lower, kw); n > 0 {
			details.KeywordMatches = append(details.KeywordMatches, kw)
			score += keywordScore * n
			reasons = append(reasons, "keyword:"+kw)
		}
	}

	repetition, repetitionReasons := analyzeRepetition(message)
	details.RepetitionScore = repetition
	score += repetition
	reasons = append(reasons, repetitionReasons...)

	if ctx != nil {
		contextScore, contextReasons := analyzeContext(message, ctx)
		details.ContextScore = contextScore
		score += contextScore
		reasons = append(reasons, contextReasons...)
	}

	confidence := math.Min(float64(score)/100, 1.0)
	return Analysis{
		Score:      score,
		Confidence: confidence,
		IsSpam:     score >= SpamThreshold,
		Tier:       TierForScore(score),
		Reasons:    reasons,
		Details:    details,
	}
}

func analyzeCharacters(message string) (CharacterStats, []string) {
	var upper, digits, punct, space, total int
	for _, r := range message {
		total++
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r):
			punct++
		case unicode.IsSpace(r):
			space++
		}
	}

	stats := CharacterStats{Length: total}
	if total == 0 {
		return stats, nil
	}
	n := float64(total)
	stats.UppercaseRatio = float64(upper) / n
	stats.DigitRatio = float64(digits) / n
	stats.PunctuationRatio = float64(punct) / n
	stats.WhitespaceRatio = float64(space) / n

	if total <= 10 {
		return stats, nil
	}

	var violations []string
	if stats.UppercaseRatio > 0.7 {
		violations = append(violations, "excessive_uppercase")
	}
	if stats.DigitRatio > 0.5 {
		violations = append(violations, "excessive_digits")
	}
	if stats.PunctuationRatio > 0.3 {
		violations = append(violations, "excessive_punctuation")
	}
	if total > 20 && stats.WhitespaceRatio < 0.05 {
		violations = append(violations, "packed_text")
	}
	return stats, violations
}

var punctuationRunPattern = regexp.MustCompile(`[!?]{3,}`)

func analyzeRepetition(message string) (int, []string) {
	score := 0
	var reasons []string

	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	freq := make(map[string]int)
	for _, w := range words {
		if len([]rune(w)) > 2 {
			freq[w]++
		}
	}
	// 排序保证理由顺序稳定
	repeated := make([]string, 0)
	for w, c := range freq {
		if c > 3 {
			repeated = append(repeated, w)
		}
	}
	sort.Strings(repeated)
	for _, w := range repeated {
		score += (freq[w] - 3) * 5
	}
	if len(repeated) > 0 {
		reasons = append(reasons, "repeated_words")
	}

	if n := countRepeatedSequences(message); n > 0 {
		score += n * repeatedSequenceScore
		reasons = append(reasons, "repeated_sequences")
	}

	if n := len(punctuationRunPattern.FindAllStringIndex(message, -1)); n > 0 {
		score += n * punctuationRunScore
		reasons = append(reasons, "punctuation_repetition")
	}

	return score, reasons
}

const (
	minSequenceRunes = 3
	maxSequenceRunes = 32
)

// countRepeatedSequences 统计至少 3 个字符的片段连续重复 3 次及以上的次数。
// 每处取最短的重复片段，并跳过整段已被覆盖的重复。
func countRepeatedSequences(message string) int {
	runes := []rune(strings.ToLower(message))
	n := len(runes)
	count := 0

	for i := 0; i < n; {
		matched := 0
		for size := minSequenceRunes; size <= maxSequenceRunes && i+3*size <= n; size++ {
			chunk := runes[i : i+size]
			if uniform(chunk) {
				continue
			}
			if equalRunes(chunk, runes[i+size:i+2*size]) && equalRunes(chunk, runes[i+2*size:i+3*size]) {
				matched = size
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}

		count++
		end := i + 3*matched
		for end+matched <= n && equalRunes(runes[i:i+matched], runes[end:end+matched]) {
			end += matched
		}
		i = end
	}
	return count
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uniform(chunk []rune) bool {
	for _, r := range chunk[1:] {
		if r != chunk[0] {
			return false
		}
	}
	return true
}

func analyzeContext(message string, ctx *Context) (int, []string) {
	score := 0
	var reasons []string

	trimmed := strings.TrimSpace(message)
	if trimmed != "" {
		duplicates := 0
		for _, h := range ctx.History {
			if strings.TrimSpace(h.Message) == "" {
				continue
			}
			if Similarity(trimmed, h.Message) > nearDuplicateThreshold {
				duplicates++
			}
		}
		if duplicates > 0 {
			score += duplicates * nearDuplicateScore
			reasons = append(reasons, "near_duplicate_message")
		}
	}

	recent := 0
	for _, h := range ctx.History {
		if ctx.Now.Sub(h.At) <= frequencyWindow {
			recent++
		}
	}
	if recent > frequencyLimit {
		score += frequencyScore
		reasons = append(reasons, "high_message_frequency")
	}

	if len(ctx.Targets) > 0 {
		key := targetKey(ctx.Targets)
		for _, h := range ctx.History {
			if ctx.Now.Sub(h.At) <= targetRepeatWindow && len(h.Targets) > 0 && targetKey(h.Targets) == key {
				score += repeatedTargetsScore
				reasons = append(reasons, "repeated_targets")
				break
			}
		}
	}

	return score, reasons
}

func targetKey(targets []string) string {
	seen := make(map[string]struct{}, len(targets))
	uniq := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	sort.Strings(uniq)
	// \x00 不会出现在 id 中，避免 ["a b"] 与 ["a","b"] 得到相同的键
	return strings.Join(uniq, "\x00")
}
