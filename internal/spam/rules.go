package spam

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPattern 在管理员提交的正则无法编译时返回。
var ErrInvalidPattern = errors.New("spam: invalid pattern")

// Pattern 是一种可计数的可疑模式。
type Pattern struct {
	Name string
	Expr string

	re    *regexp.Regexp
	count func(string) int
}

// Count 返回消息中该模式的匹配次数。
func (p Pattern) Count(message string) int {
	if p.count != nil {
		return p.count(message)
	}
	if p.re == nil {
		return 0
	}
	return len(p.re.FindAllStringIndex(message, -1))
}

func regexPattern(name, expr string) Pattern {
	return Pattern{Name: name, Expr: expr, re: regexp.MustCompile(expr)}
}

// Rules 是关键词与模式的不可变快照，更新时整体替换。
type Rules struct {
	Version  int
	keywords []string
	patterns []Pattern
}

// Keywords 返回关键词副本。
func (r *Rules) Keywords() []string {
	out := make([]string, len(r.keywords))
	copy(out, r.keywords)
	return out
}

// Patterns 返回模式副本。
func (r *Rules) Patterns() []Pattern {
	out := make([]Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// defaultKeywords 按类别整理：金融、紧迫、中奖、健康、投资、互动诱导。
var defaultKeywords = []string{
	// financial
	"free money", "earn money", "make money fast", "cash bonus", "100% free", "no credit check",
	// urgency
	"act now", "limited time", "urgent", "buy now", "click here", "don't miss out",
	// prize
	"winner", "congratulations you", "you have won", "claim your prize", "free gift",
	// health
	"weight loss", "miracle cure", "lose weight fast", "diet pills",
	// investment
	"guaranteed returns", "double your", "crypto investment", "risk free", "get rich",
	// engagement bait
	"like and share", "follow for follow", "sub4sub", "free followers", "tag your friends",
}

const (
	PatternURL           = "url"
	PatternEmail         = "email"
	PatternPhone         = "phone"
	PatternCryptoAddress = "crypto_address"
	PatternEmojiDense    = "emoji_dense"
	PatternRepeatedChars = "repeated_chars"
)

func defaultPatterns() []Pattern {
	return []Pattern{
		regexPattern(PatternURL, `(?i)(?:https?://|www\.)\S+`),
		regexPattern(PatternEmail, `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`),
		regexPattern(PatternPhone, `(?:\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`),
		regexPattern(PatternCryptoAddress, `\b(?:bc1|[13])[a-km-zA-HJ-NP-Z1-9]{25,39}\b|\b0x[a-fA-F0-9]{40}\b`),
		regexPattern(PatternEmojiDense, `(?:[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]\s*){5,}`),
		{Name: PatternRepeatedChars, Expr: "same character repeated 5+ times", count: countCharRuns},
	}
}

// DefaultRules 返回内置规则快照。
func DefaultRules() *Rules {
	keywords := make([]string, len(defaultKeywords))
	copy(keywords, defaultKeywords)
	return &Rules{Version: 1, keywords: keywords, patterns: defaultPatterns()}
}

// With 基于当前快照追加关键词与模式并去重，返回新快照，原快照不变。
func (r *Rules) With(keywords, patterns []string) (*Rules, error) {
	next := &Rules{
		Version:  r.Version + 1,
		keywords: r.Keywords(),
		patterns: r.Patterns(),
	}

	seenKeywords := make(map[string]struct{}, len(next.keywords))
	for _, kw := range next.keywords {
		seenKeywords[kw] = struct{}{}
	}
	for _, raw := range keywords {
		kw := strings.ToLower(strings.TrimSpace(raw))
		if kw == "" {
			continue
		}
		if _, ok := seenKeywords[kw]; ok {
			continue
		}
		seenKeywords[kw] = struct{}{}
		next.keywords = append(next.keywords, kw)
	}

	seenExprs := make(map[string]struct{}, len(next.patterns))
	for _, p := range next.patterns {
		seenExprs[p.Expr] = struct{}{}
	}
	for _, raw := range patterns {
		expr := strings.TrimSpace(raw)
		if expr == "" {
			continue
		}
		if _, ok := seenExprs[expr]; ok {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, expr, err)
		}
		seenExprs[expr] = struct{}{}
		next.patterns = append(next.patterns, Pattern{Name: "custom:" + expr, Expr: expr, re: re})
	}

	return next, nil
}

// countCharRuns 统计同一字符连续出现 5 次及以上的段数，空白不计。
func countCharRuns(message string) int {
	count := 0
	var prev rune = utf8.RuneError
	run := 0
	for _, r := range message {
		if r == prev {
			run++
		} else {
			if run >= 5 && !isSpaceRune(prev) {
				count++
			}
			prev = r
			run = 1
		}
	}
	if run >= 5 && !isSpaceRune(prev) {
		count++
	}
	return count
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
