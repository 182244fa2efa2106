package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/cooldown"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/metrics"
	"github.com/sharegate/internal/ratelimit"
	"github.com/sharegate/internal/spam"
)

// ActionShare 是限流器中分享动作的名称。
const ActionShare = "share"

const (
	defaultMaxMessageRunes = 500
	defaultMaxTargets      = 50
	defaultConflictDelay   = 20 * time.Millisecond

	// 上下文评分使用的历史范围
	spamHistoryWindow = time.Hour
)

// SharerProfile 是通知中展示的分享者信息。
type SharerProfile struct {
	ID          string
	DisplayName string
}

// NotificationDispatcher 投递分享通知。实现不得阻塞调用方，失败也不影响分享结果。
type NotificationDispatcher interface {
	Notify(share db.Share, post db.PostSnapshot, sharer SharerProfile)
}

type noopNotifier struct{}

func (noopNotifier) Notify(db.Share, db.PostSnapshot, SharerProfile) {}

// ShareResult 是分享成功后返回给调用方的结果。
type ShareResult struct {
	Success       bool     `json:"success"`
	ShareID       string   `json:"shareId"`
	PostID        string   `json:"postId"`
	Channel       string   `json:"channel"`
	Targets       []string `json:"targets"`
	NewShareCount int64    `json:"newShareCount"`
	Warnings      []string `json:"warnings,omitempty"`
}

// RateLimitStatus 汇总主体在各窗口的占用以及当前冷却。
type RateLimitStatus struct {
	Subject  string
	Action   string
	Windows  []ratelimit.WindowStatus
	Cooldown cooldown.Status
}

// ShareCountResult 是文章的分享计数。
type ShareCountResult struct {
	PostID        string `json:"postId"`
	ShareCount    int64  `json:"shareCount"`
	UniqueSharers int64  `json:"uniqueSharers"`
}

// ShareOrchestratorDeps 列出编排器依赖的组件，nil 的组件使用默认实现。
type ShareOrchestratorDeps struct {
	Limiter   *ratelimit.Limiter
	Cooldowns *cooldown.Store
	Scorer    *spam.Scorer
	History   *spam.History
	Posts     *PostService
	Executor  *ShareTransactionExecutor
	Oracle    PermissionOracle
	Analytics *analytics.Aggregator
	Notifier  NotificationDispatcher
	Logger    zerolog.Logger
}

// ShareOrchestrator 串联限流、冷却、行为与垃圾检测、权限判定和分享事务。
// 各步骤内部故障的处理方式由 stepPolicies 统一声明。
type ShareOrchestrator struct {
	limiter   *ratelimit.Limiter
	cooldowns *cooldown.Store
	scorer    *spam.Scorer
	history   *spam.History
	posts     *PostService
	executor  *ShareTransactionExecutor
	oracle    PermissionOracle
	analytics *analytics.Aggregator
	notifier  NotificationDispatcher
	log       zerolog.Logger
	sanitizer *bluemonday.Policy

	now             func() time.Time
	maxMessageRunes int
	maxTargets      int
	conflictDelay   time.Duration
}

// NewShareOrchestrator 创建编排器。Posts 与 Executor 必须提供。
func NewShareOrchestrator(deps ShareOrchestratorDeps) *ShareOrchestrator {
	o := &ShareOrchestrator{
		limiter:         deps.Limiter,
		cooldowns:       deps.Cooldowns,
		scorer:          deps.Scorer,
		history:         deps.History,
		posts:           deps.Posts,
		executor:        deps.Executor,
		oracle:          deps.Oracle,
		analytics:       deps.Analytics,
		notifier:        deps.Notifier,
		log:             deps.Logger,
		sanitizer:       bluemonday.StrictPolicy(),
		now:             time.Now,
		maxMessageRunes: defaultMaxMessageRunes,
		maxTargets:      defaultMaxTargets,
		conflictDelay:   defaultConflictDelay,
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(ratelimit.Limits{PerMinute: 5, PerHour: 30, PerDay: 100}, 0)
	}
	if o.cooldowns == nil {
		o.cooldowns = cooldown.NewStore(0)
	}
	if o.scorer == nil {
		o.scorer = spam.NewScorer()
	}
	if o.history == nil {
		o.history = spam.NewHistory(0)
	}
	if o.oracle == nil {
		o.oracle = NewPostPermissionOracle(o.posts)
	}
	if o.analytics == nil {
		o.analytics = analytics.New(0, 0)
	}
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	return o
}

// WithClock 允许在测试中固定时间。
func (o *ShareOrchestrator) WithClock(now func() time.Time) *ShareOrchestrator {
	if now == nil {
		return o
	}
	o.now = now
	return o
}

// WithMessageLimits 调整留言长度与目标数量上限。
func (o *ShareOrchestrator) WithMessageLimits(maxMessageRunes, maxTargets int) *ShareOrchestrator {
	if maxMessageRunes > 0 {
		o.maxMessageRunes = maxMessageRunes
	}
	if maxTargets > 0 {
		o.maxTargets = maxTargets
	}
	return o
}

// WithConflictDelay 调整冲突重试前的等待时间。
func (o *ShareOrchestrator) WithConflictDelay(d time.Duration) *ShareOrchestrator {
	if d < 0 {
		return o
	}
	o.conflictDelay = d
	return o
}

type step string

const (
	stepRateLimit   step = "rate_limit"
	stepCooldown    step = "cooldown"
	stepBehavior    step = "behavior"
	stepSpam        step = "spam"
	stepPermission  step = "permission"
	stepTransaction step = "transaction"
)

type failurePolicy int

const (
	failOpen failurePolicy = iota
	failClosed
)

// stepPolicies 声明每个步骤内部故障时放行还是拒绝。
// 只有权限判定和持久化事务失败时拒绝，其余检查故障时放行。
var stepPolicies = map[step]failurePolicy{
	stepRateLimit:   failOpen,
	stepCooldown:    failOpen,
	stepBehavior:    failOpen,
	stepSpam:        failOpen,
	stepPermission:  failClosed,
	stepTransaction: failClosed,
}

// stepResult 区分业务拒绝与内部故障。
type stepResult struct {
	rejected *ShareError
	fault    error
}

func rejectWith(err *ShareError) stepResult { return stepResult{rejected: err} }

func faultWith(err error) stepResult { return stepResult{fault: err} }

// shareAttempt 在步骤之间传递的状态。
type shareAttempt struct {
	req      ShareRequest
	snapshot db.PostSnapshot
	analysis *spam.Analysis
	result   ExecuteResult
	warnings []string

	// release 归还限流器中预占的名额，未预占时为 nil
	release func()
}

// ShareToFriends 分享给好友。
func (o *ShareOrchestrator) ShareToFriends(ctx context.Context, req ShareRequest) (ShareResult, error) {
	req.Channel = db.ChannelFriends
	return o.Share(ctx, req)
}

// ShareToFeed 转发到自己的动态。
func (o *ShareOrchestrator) ShareToFeed(ctx context.Context, req ShareRequest) (ShareResult, error) {
	req.Channel = db.ChannelFeed
	return o.Share(ctx, req)
}

// ShareToGroups 分享到群组。
func (o *ShareOrchestrator) ShareToGroups(ctx context.Context, req ShareRequest) (ShareResult, error) {
	req.Channel = db.ChannelGroups
	return o.Share(ctx, req)
}

// Share 依次执行校验、限流、冷却、行为检测、垃圾检测、权限判定与事务。
// 失败时返回 *ShareError。
func (o *ShareOrchestrator) Share(ctx context.Context, req ShareRequest) (ShareResult, error) {
	now := o.now()

	attempt, invalid := o.validate(req)
	if invalid != nil {
		return ShareResult{}, o.reject(attempt, now, invalid)
	}

	steps := []struct {
		name step
		run  func() stepResult
	}{
		{stepRateLimit, func() stepResult { return o.checkRateLimit(attempt, now) }},
		{stepCooldown, func() stepResult { return o.checkCooldown(attempt, now) }},
		{stepBehavior, func() stepResult { return o.checkBehavior(attempt, now) }},
		{stepSpam, func() stepResult { return o.checkSpam(attempt, now) }},
		{stepPermission, func() stepResult { return o.checkPermission(ctx, attempt) }},
		{stepTransaction, func() stepResult { return o.commit(ctx, attempt) }},
	}
	for _, s := range steps {
		if rejected := o.runStep(s.name, attempt, s.run); rejected != nil {
			return ShareResult{}, o.reject(attempt, now, rejected)
		}
	}

	o.afterCommit(attempt, now)

	return ShareResult{
		Success:       true,
		ShareID:       attempt.result.ShareID,
		PostID:        attempt.req.PostID,
		Channel:       attempt.req.Channel,
		Targets:       attempt.req.Targets,
		NewShareCount: attempt.result.NewShareCount,
		Warnings:      attempt.warnings,
	}, nil
}

func (o *ShareOrchestrator) runStep(name step, attempt *shareAttempt, run func() stepResult) *ShareError {
	res := safeRun(name, run)
	if res.fault == nil {
		return res.rejected
	}

	if stepPolicies[name] == failOpen {
		metrics.FailOpen.WithLabelValues(string(name)).Inc()
		o.log.Warn().Err(res.fault).
			Str("step", string(name)).
			Str("subject", attempt.req.SharerID).
			Str("post_id", attempt.req.PostID).
			Msg("guard step failed, allowing share")
		return nil
	}

	o.log.Error().Err(res.fault).
		Str("step", string(name)).
		Str("subject", attempt.req.SharerID).
		Str("post_id", attempt.req.PostID).
		Msg("share step failed")
	return asShareError(res.fault)
}

func safeRun(name step, run func() stepResult) (res stepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = faultWith(fmt.Errorf("%s step panicked: %v", name, r))
		}
	}()
	return run()
}

func (o *ShareOrchestrator) validate(req ShareRequest) (*shareAttempt, *ShareError) {
	attempt := &shareAttempt{req: ShareRequest{
		PostID:   strings.TrimSpace(req.PostID),
		SharerID: strings.TrimSpace(req.SharerID),
		Channel:  strings.ToLower(strings.TrimSpace(req.Channel)),
	}}

	if attempt.req.PostID == "" {
		return attempt, newShareError(KindValidation, "post id is required")
	}
	if attempt.req.SharerID == "" {
		return attempt, newShareError(KindValidation, "sharer id is required")
	}

	targets := make([]string, 0, len(req.Targets))
	for _, t := range req.Targets {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	switch attempt.req.Channel {
	case db.ChannelFeed:
		if len(targets) > 0 {
			return attempt, newShareError(KindValidation, "feed shares do not take targets")
		}
	case db.ChannelFriends, db.ChannelGroups:
		if len(targets) == 0 {
			return attempt, newShareError(KindValidation, "at least one target is required")
		}
	default:
		return attempt, newShareError(KindValidation, fmt.Sprintf("unknown channel %q", req.Channel))
	}
	if len(targets) > o.maxTargets {
		return attempt, newShareError(KindValidation, fmt.Sprintf("at most %d targets are allowed", o.maxTargets))
	}
	attempt.req.Targets = targets

	message := strings.TrimSpace(html.UnescapeString(o.sanitizer.Sanitize(req.Message)))
	if utf8.RuneCountInString(message) > o.maxMessageRunes {
		return attempt, newShareError(KindValidation, fmt.Sprintf("message exceeds %d characters", o.maxMessageRunes))
	}
	attempt.req.Message = message

	privacy, err := normalizePrivacy(req.Privacy)
	if err != nil {
		return attempt, newShareError(KindValidation, fmt.Sprintf("unknown privacy %q", req.Privacy))
	}
	attempt.req.Privacy = privacy

	return attempt, nil
}

func (o *ShareOrchestrator) checkRateLimit(attempt *shareAttempt, now time.Time) stepResult {
	decision, release, err := o.limiter.Reserve(attempt.req.SharerID, ActionShare, now)
	if err != nil {
		return faultWith(err)
	}
	if decision.Allowed {
		attempt.release = release
		return stepResult{}
	}
	return rejectWith(&ShareError{
		Kind:              KindRateLimit,
		Message:           fmt.Sprintf("share limit of %d per %s reached", decision.Max, decision.Window),
		RetryAfterSeconds: decision.RetryAfterSeconds,
		Reason:            decision.Window.String(),
	})
}

func (o *ShareOrchestrator) checkCooldown(attempt *shareAttempt, now time.Time) stepResult {
	status := o.cooldowns.Check(attempt.req.SharerID, now)
	if status.Allowed {
		return stepResult{}
	}
	return rejectWith(&ShareError{
		Kind:              KindCooldown,
		Message:           "sharing is temporarily suspended",
		RetryAfterSeconds: status.RetryAfterSeconds,
		Reason:            status.Reason,
	})
}

func (o *ShareOrchestrator) checkBehavior(attempt *shareAttempt, now time.Time) stepResult {
	subject := attempt.req.SharerID
	timestamps := o.limiter.Timestamps(subject, ActionShare)
	if attempt.release != nil {
		timestamps = withoutReservation(timestamps, now)
	}
	behavior := spam.AnalyzeBehavior(timestamps, now)

	var cd cooldown.Cooldown
	switch {
	case behavior.Automated:
		cd = o.cooldowns.Apply(subject, cooldown.KindAutomation, cooldown.AutomationDuration, "automated sharing pattern detected", now)
	case behavior.Burst:
		cd = o.cooldowns.Apply(subject, cooldown.KindBurst, cooldown.BurstDuration, "too many shares in a short time", now)
	default:
		return stepResult{}
	}

	return rejectWith(&ShareError{
		Kind:              KindCooldown,
		Message:           "sharing is temporarily suspended",
		RetryAfterSeconds: int(cd.ExpiresAt.Sub(now).Seconds()),
		Reason:            cd.Reason,
	})
}

// withoutReservation 去掉本次请求预占的时间戳，行为检测只看此前的动作。
func withoutReservation(timestamps []time.Time, now time.Time) []time.Time {
	for i := len(timestamps) - 1; i >= 0; i-- {
		if timestamps[i].Equal(now) {
			return append(timestamps[:i], timestamps[i+1:]...)
		}
	}
	return timestamps
}

func (o *ShareOrchestrator) checkSpam(attempt *shareAttempt, now time.Time) stepResult {
	subject := attempt.req.SharerID
	analysis := o.scorer.Analyze(attempt.req.Message, &spam.Context{
		Now:     now,
		Targets: attempt.req.Targets,
		History: o.history.Recent(subject, now, spamHistoryWindow),
	})
	attempt.analysis = &analysis
	metrics.SpamScore.Observe(float64(analysis.Score))

	if !analysis.IsSpam {
		if analysis.Tier == spam.TierLow {
			attempt.warnings = append(attempt.warnings, "message may be seen as promotional")
		}
		return stepResult{}
	}

	duration := cooldown.SpamDuration(analysis.Confidence)
	o.cooldowns.Apply(subject, cooldown.KindSpam, duration, fmt.Sprintf("spam detected (%s risk)", analysis.Tier), now)
	return rejectWith(&ShareError{
		Kind:              KindSpamRejected,
		Message:           "message was flagged as spam",
		RetryAfterSeconds: int(duration.Seconds()),
		Tier:              string(analysis.Tier),
		Reasons:           analysis.Reasons,
	})
}

func (o *ShareOrchestrator) checkPermission(ctx context.Context, attempt *shareAttempt) stepResult {
	req := &attempt.req

	snapshot, err := o.posts.Snapshot(ctx, req.PostID)
	if err != nil {
		return faultWith(err)
	}
	attempt.snapshot = snapshot

	perm, err := o.oracle.CanShare(ctx, req.PostID, req.SharerID, req.Channel)
	if err != nil {
		return faultWith(err)
	}
	if !perm.Allowed {
		return rejectWith(&ShareError{Kind: KindPermission, Message: "sharing this post is not allowed", Reason: perm.Reason})
	}

	if req.Channel == db.ChannelFeed {
		return stepResult{}
	}

	resolved, err := o.oracle.ResolveTargets(ctx, req.SharerID, req.Channel, req.Targets)
	if err != nil {
		return faultWith(err)
	}
	valid := resolved.Valid
	if perm.AllowedTargets != nil {
		valid = intersect(valid, perm.AllowedTargets)
	}
	if len(valid) == 0 {
		return rejectWith(&ShareError{Kind: KindPermission, Message: "none of the targets can receive this share", Reason: "no valid targets"})
	}
	if skipped := len(req.Targets) - len(valid); skipped > 0 {
		attempt.warnings = append(attempt.warnings, fmt.Sprintf("%d target(s) were skipped", skipped))
	}
	req.Targets = valid
	return stepResult{}
}

// commit 执行分享事务，版本冲突时用最新快照重试一次。
func (o *ShareOrchestrator) commit(ctx context.Context, attempt *shareAttempt) stepResult {
	tries := 0
	operation := func() (ExecuteResult, error) {
		if tries > 0 {
			fresh, err := o.posts.Snapshot(ctx, attempt.req.PostID)
			if err != nil {
				return ExecuteResult{}, backoff.Permanent(err)
			}
			attempt.snapshot = fresh
		}
		tries++

		res, err := o.executor.Execute(ctx, attempt.req, attempt.snapshot)
		if err != nil && !errors.Is(err, ErrConflict) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.conflictDelay), 1), ctx)
	res, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return faultWith(err)
	}
	attempt.result = res
	return stepResult{}
}

func (o *ShareOrchestrator) afterCommit(attempt *shareAttempt, now time.Time) {
	req := attempt.req

	// 限流步骤故障放行时没有预占，这里补记
	if attempt.release == nil {
		if err := o.limiter.Record(req.SharerID, ActionShare, now); err != nil {
			o.log.Warn().Err(err).Str("subject", req.SharerID).Msg("record share in limiter")
		}
	}
	o.history.Record(req.SharerID, spam.HistoryEntry{Message: req.Message, Targets: req.Targets, At: now})

	event := analytics.Event{
		Type:        analytics.EventSuccess,
		PostID:      req.PostID,
		SharerID:    req.SharerID,
		Channel:     req.Channel,
		TargetCount: len(req.Targets),
		HasMessage:  req.Message != "",
		Timestamp:   now,
	}
	if attempt.analysis != nil {
		event.SpamTier = string(attempt.analysis.Tier)
		event.SpamReasons = attempt.analysis.Reasons
	}
	o.analytics.Record(event)
	metrics.ShareAttempts.WithLabelValues(req.Channel, "success").Inc()

	o.dispatch(attempt)

	o.log.Info().
		Str("subject", req.SharerID).
		Str("post_id", req.PostID).
		Str("channel", req.Channel).
		Str("share_id", attempt.result.ShareID).
		Int64("share_count", attempt.result.NewShareCount).
		Msg("share recorded")
}

func (o *ShareOrchestrator) dispatch(attempt *shareAttempt) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Str("share_id", attempt.result.ShareID).Msg("notification dispatch panicked")
		}
	}()
	o.notifier.Notify(attempt.result.Record, attempt.snapshot, SharerProfile{ID: attempt.req.SharerID})
}

func (o *ShareOrchestrator) reject(attempt *shareAttempt, now time.Time, err *ShareError) error {
	req := attempt.req
	if attempt.release != nil {
		attempt.release()
		attempt.release = nil
	}
	metrics.ShareRejections.WithLabelValues(string(err.Kind)).Inc()
	metrics.ShareAttempts.WithLabelValues(req.Channel, "rejected").Inc()

	o.log.Info().
		Str("subject", req.SharerID).
		Str("action", ActionShare).
		Str("post_id", req.PostID).
		Str("channel", req.Channel).
		Str("kind", string(err.Kind)).
		Str("reason", err.Reason).
		Strs("reasons", err.Reasons).
		Int("retry_after", err.RetryAfterSeconds).
		Msg("share rejected")

	event := analytics.Event{
		Type:        analytics.EventFailure,
		PostID:      req.PostID,
		SharerID:    req.SharerID,
		Channel:     req.Channel,
		TargetCount: len(req.Targets),
		HasMessage:  req.Message != "",
		Timestamp:   now,
		ErrorKind:   string(err.Kind),
		SpamTier:    err.Tier,
		SpamReasons: err.Reasons,
	}
	if event.SpamTier == "" && attempt.analysis != nil {
		event.SpamTier = string(attempt.analysis.Tier)
	}
	o.analytics.Record(event)
	return err
}

// RemoveShare 撤销分享，只有原分享者可以操作。
func (o *ShareOrchestrator) RemoveShare(ctx context.Context, shareID, subject string) (RemoveResult, error) {
	shareID = strings.TrimSpace(shareID)
	subject = strings.TrimSpace(subject)
	if shareID == "" || subject == "" {
		return RemoveResult{}, newShareError(KindValidation, "share id and subject are required")
	}

	res, err := o.executor.Remove(ctx, shareID, subject)
	if err != nil {
		se := asShareError(err)
		if se.Kind == KindPermission {
			se.Message = "only the original sharer may remove a share"
		}
		metrics.ShareRejections.WithLabelValues(string(se.Kind)).Inc()
		o.log.Info().Err(err).
			Str("subject", subject).
			Str("action", "remove_share").
			Str("share_id", shareID).
			Str("kind", string(se.Kind)).
			Msg("share removal rejected")
		return RemoveResult{}, se
	}

	o.analytics.Record(analytics.Event{
		Type:      analytics.EventInteraction,
		PostID:    res.PostID,
		SharerID:  subject,
		Timestamp: o.now(),
	})
	o.log.Info().Str("subject", subject).Str("share_id", shareID).Int64("share_count", res.NewShareCount).Msg("share removed")
	return res, nil
}

// RateLimitStatus 返回主体在各窗口的占用以及生效中的冷却。
func (o *ShareOrchestrator) RateLimitStatus(subject, action string) RateLimitStatus {
	if action == "" {
		action = ActionShare
	}
	now := o.now()
	return RateLimitStatus{
		Subject:  subject,
		Action:   action,
		Windows:  o.limiter.Status(subject, action, now),
		Cooldown: o.cooldowns.Check(subject, now),
	}
}

// Analytics 返回文章或分享者维度的聚合指标。
func (o *ShareOrchestrator) Analytics(scope analytics.Scope, days int) analytics.Metrics {
	return o.analytics.Metrics(scope, days, o.now())
}

// ShareCount 返回文章的分享计数与去重分享者数量。
func (o *ShareOrchestrator) ShareCount(ctx context.Context, postID string) (ShareCountResult, error) {
	count, err := o.executor.ShareCount(ctx, postID)
	if err != nil {
		return ShareCountResult{}, asShareError(err)
	}
	sharers, err := o.executor.SharerCount(ctx, postID)
	if err != nil {
		return ShareCountResult{}, asShareError(err)
	}
	return ShareCountResult{PostID: postID, ShareCount: count, UniqueSharers: sharers}, nil
}

// ListShares 按时间范围查询分享记录。
func (o *ShareOrchestrator) ListShares(ctx context.Context, filter ShareFilter) ([]db.Share, error) {
	shares, err := o.executor.ListShares(ctx, filter)
	if err != nil {
		return nil, asShareError(err)
	}
	return shares, nil
}

// ResetRateLimits 清除主体的限流计数与冷却；action 为空时同时清除近期留言历史。
func (o *ShareOrchestrator) ResetRateLimits(subject, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return newShareError(KindValidation, "subject is required")
	}
	o.limiter.Reset(subject, action)
	o.cooldowns.Clear(subject)
	if action == "" {
		o.history.Reset(subject)
	}
	o.log.Info().Str("subject", subject).Str("action", action).Msg("rate limits reset")
	return nil
}

// UpdateSpamPatterns 追加关键词与正则模式，原子替换规则快照。
func (o *ShareOrchestrator) UpdateSpamPatterns(keywords, patterns []string) (*spam.Rules, error) {
	rules, err := o.scorer.UpdateRules(keywords, patterns)
	if err != nil {
		if errors.Is(err, spam.ErrInvalidPattern) {
			return nil, &ShareError{Kind: KindValidation, Message: "invalid spam pattern", Err: err}
		}
		return nil, err
	}
	o.log.Info().
		Int("version", rules.Version).
		Int("keywords", len(rules.Keywords())).
		Int("patterns", len(rules.Patterns())).
		Msg("spam rules updated")
	return rules, nil
}

// SpamDetectionStats 返回最近 timeframe 内的垃圾检测统计。
func (o *ShareOrchestrator) SpamDetectionStats(timeframe time.Duration) analytics.SpamStats {
	if timeframe <= 0 {
		timeframe = 24 * time.Hour
	}
	now := o.now()
	return o.analytics.SpamStats(now.Add(-timeframe), now)
}

func intersect(values, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
