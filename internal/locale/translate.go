package locale

// Pick returns the text matching the request language, defaulting to Chinese.
func Pick(language, english, chinese string) string {
	if NormalizeLanguage(language) == LanguageEnglish {
		if english != "" {
			return english
		}
		return chinese
	}
	if chinese != "" {
		return chinese
	}
	return english
}

// Message 是一条双语文案。
type Message struct {
	English string
	Chinese string
}

var catalog = map[string]Message{
	"error.validation":       {English: "The share request is invalid", Chinese: "分享请求无效"},
	"error.rate_limit":       {English: "You are sharing too often, please try again later", Chinese: "分享过于频繁，请稍后再试"},
	"error.cooldown":         {English: "Sharing is temporarily suspended for your account", Chinese: "账号暂时无法分享，请稍后再试"},
	"error.spam_rejected":    {English: "The message looks like spam", Chinese: "留言疑似垃圾内容"},
	"error.permission":       {English: "You are not allowed to share this post", Chinese: "没有权限分享该文章"},
	"error.not_found":        {English: "The requested resource does not exist", Chinese: "请求的资源不存在"},
	"error.conflict":         {English: "The post changed concurrently, please retry", Chinese: "文章已被并发修改，请重试"},
	"error.storage":          {English: "Failed to save the share", Chinese: "分享保存失败"},
	"error.unauthenticated":  {English: "Missing user identity", Chinese: "缺少用户身份"},
	"error.admin_required":   {English: "Please log in first", Chinese: "请先登录"},
	"error.bad_credentials":  {English: "Invalid username or password", Chinese: "用户名或密码错误"},
	"error.session":          {English: "Failed to save session", Chinese: "会话保存失败"},
	"error.bad_request":      {English: "Invalid request body", Chinese: "请求参数错误"},
	"error.bad_timeframe":    {English: "timeframe must be a duration such as 24h", Chinese: "timeframe 需为时长，例如 24h"},
	"error.bad_time":         {English: "since/until must be RFC3339 timestamps", Chinese: "since/until 需为 RFC3339 时间"},
	"message.rate_reset":     {English: "Rate limits reset", Chinese: "限流状态已重置"},
	"message.patterns_saved": {English: "Spam rules updated", Chinese: "垃圾检测规则已更新"},
	"message.share_removed":  {English: "Share removed", Chinese: "分享已撤销"},
	"message.logged_out":     {English: "Logged out", Chinese: "已退出登录"},
}

// T 返回 key 对应语言的文案，未知 key 原样返回。
func T(language, key string) string {
	msg, ok := catalog[key]
	if !ok {
		return key
	}
	return Pick(language, msg.English, msg.Chinese)
}
