package locale

import "strings"

const (
	LanguageChinese = "zh"
	LanguageEnglish = "en"
)

type Preference struct {
	Language string
	HTMLLang string
}

func NormalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "zh") || trimmed == "cn" {
		return LanguageChinese
	}
	if strings.HasPrefix(trimmed, "en") {
		return LanguageEnglish
	}
	return ""
}

// LanguageFromAcceptLanguage 取 Accept-Language 中第一个可识别的语言。
func LanguageFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := part
		if idx := strings.Index(tag, ";"); idx >= 0 {
			tag = tag[:idx]
		}
		if normalized := NormalizeLanguage(tag); normalized != "" {
			return normalized
		}
	}
	return ""
}

// Resolve 按 lang 参数、Accept-Language 的顺序决定语言，默认中文。
func Resolve(override, acceptLanguage string) Preference {
	if normalized := NormalizeLanguage(override); normalized != "" {
		return PreferenceForLanguage(normalized)
	}
	return PreferenceForLanguage(LanguageFromAcceptLanguage(acceptLanguage))
}

func PreferenceForLanguage(language string) Preference {
	if NormalizeLanguage(language) == LanguageEnglish {
		return Preference{Language: LanguageEnglish, HTMLLang: "en-US"}
	}
	return Preference{Language: LanguageChinese, HTMLLang: "zh-CN"}
}
