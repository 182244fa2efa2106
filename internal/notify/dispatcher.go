// Package notify 异步投递分享通知。
//
// Dispatcher 使用带缓冲的 channel 与单个工作协程：Notify 从不阻塞，缓冲已满时丢弃并计数。
// 推送渠道本身不在本服务内，默认只记录投递日志，可通过 WithSink 接入真实的推送。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/metrics"
	"github.com/sharegate/internal/service"
	"github.com/yuin/goldmark"
)

const defaultBuffer = 256

// Notification 是渲染完成、待投递的一条通知。
type Notification struct {
	ShareID    string
	PostID     string
	PostTitle  string
	SharerID   string
	Channel    string
	Recipients []string
	HTML       string
	CreatedAt  time.Time
}

// Sink 执行实际投递。
type Sink func(ctx context.Context, n Notification) error

type job struct {
	share  db.Share
	post   db.PostSnapshot
	sharer service.SharerProfile
}

// Dispatcher 实现 service.NotificationDispatcher。
type Dispatcher struct {
	ch     chan job
	log    zerolog.Logger
	md     goldmark.Markdown
	policy *bluemonday.Policy
	sink   Sink
}

// NewDispatcher 创建 Dispatcher，buffer<=0 时使用 256。
func NewDispatcher(buffer int, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		ch:     make(chan job, buffer),
		log:    log,
		md:     goldmark.New(),
		policy: bluemonday.UGCPolicy(),
	}
	d.sink = d.logDelivery
	return d
}

// WithSink 替换默认的日志投递。
func (d *Dispatcher) WithSink(sink Sink) *Dispatcher {
	if sink != nil {
		d.sink = sink
	}
	return d
}

// Notify 尝试入队，缓冲已满时丢弃。
func (d *Dispatcher) Notify(share db.Share, post db.PostSnapshot, sharer service.SharerProfile) {
	select {
	case d.ch <- job{share: share, post: post, sharer: sharer}:
	default:
		metrics.NotificationsDropped.Inc()
		d.log.Warn().Str("share_id", share.ShareID).Msg("notification buffer full, dropping")
	}
}

// Pending 返回等待投递的通知数。
func (d *Dispatcher) Pending() int {
	return len(d.ch)
}

// Run 消费队列直到 ctx 取消。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Int("buffer", cap(d.ch)).Msg("notification dispatcher starting")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Int("pending", len(d.ch)).Msg("notification dispatcher stopping")
			return ctx.Err()
		case j := <-d.ch:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("share_id", j.share.ShareID).Msg("notification delivery panicked")
		}
	}()

	n, err := d.Build(j.share, j.post, j.sharer)
	if err != nil {
		d.log.Warn().Err(err).Str("share_id", j.share.ShareID).Msg("render notification")
		return
	}
	if len(n.Recipients) == 0 {
		return
	}
	if err := d.sink(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("share_id", n.ShareID).Msg("deliver notification")
	}
}

// Build 渲染通知内容并计算接收人：好友或群组目标，以及文章作者，不含分享者本人。
func (d *Dispatcher) Build(share db.Share, post db.PostSnapshot, sharer service.SharerProfile) (Notification, error) {
	var targets []string
	if len(share.Targets) > 0 {
		if err := json.Unmarshal(share.Targets, &targets); err != nil {
			return Notification{}, err
		}
	}

	seen := map[string]struct{}{sharer.ID: {}}
	recipients := make([]string, 0, len(targets)+1)
	for _, r := range append(targets, post.AuthorID) {
		if _, ok := seen[r]; ok || r == "" {
			continue
		}
		seen[r] = struct{}{}
		recipients = append(recipients, r)
	}

	body, err := d.Render(share.Message)
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		ShareID:    share.ShareID,
		PostID:     share.PostID,
		PostTitle:  post.Title,
		SharerID:   sharer.ID,
		Channel:    share.Channel,
		Recipients: recipients,
		HTML:       body,
		CreatedAt:  share.CreatedAt,
	}, nil
}

// Render 将留言按 Markdown 渲染并做 HTML 净化。
func (d *Dispatcher) Render(message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := d.md.Convert([]byte(message), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(d.policy.Sanitize(buf.String())), nil
}

func (d *Dispatcher) logDelivery(_ context.Context, n Notification) error {
	d.log.Info().
		Str("share_id", n.ShareID).
		Str("post_id", n.PostID).
		Str("sharer", n.SharerID).
		Str("channel", n.Channel).
		Strs("recipients", n.Recipients).
		Msg("share notification delivered")
	return nil
}
