// Package notify 通知出口。核心写路径只投递事件，不关心送达。
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/pkg/logger"
)

// Topic 通知事件所在的 topic
const Topic = "notifications"

type Verb string

const (
	VerbTweetCreated Verb = "tweet_created"
	VerbLiked        Verb = "liked"
	VerbCommented    Verb = "commented"
	VerbFollowed     Verb = "followed"
)

// Event RecipientID 为空表示广播给 actor 的粉丝（由下游决定）
type Event struct {
	Verb        Verb         `json:"verb"`
	ActorID     string       `json:"actor_id"`
	RecipientID string       `json:"recipient_id,omitempty"`
	Target      model.Target `json:"target"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Bus 把事件发布到 watermill publisher
type Bus struct {
	pub message.Publisher
}

func NewBus(pub message.Publisher) *Bus {
	return &Bus{pub: pub}
}

// NewGoChannel 进程内 pubsub；不阻塞发布方等待 ack
func NewGoChannel(buffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: buffer},
		watermill.NopLogger{},
	)
}

// Notify 自己对自己的动作不通知；发布失败只记日志
func (b *Bus) Notify(ctx context.Context, ev Event) {
	if ev.RecipientID != "" && ev.RecipientID == ev.ActorID {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("encode notification failed", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(Topic, msg); err != nil {
		logger.Warn("publish notification failed",
			zap.String("verb", string(ev.Verb)),
			zap.String("actor", ev.ActorID),
			zap.Error(err))
	}
}

// Decode 还原消息中的事件
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}

// Drain 订阅通知并交给 handle，直到 ctx 结束；服务端默认只记录日志
func Drain(ctx context.Context, sub message.Subscriber, handle func(Event)) error {
	messages, err := sub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			ev, err := Decode(msg)
			if err != nil {
				logger.Warn("drop malformed notification", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			handle(ev)
			msg.Ack()
		}
	}()
	return nil
}

// LogHandler 以 debug 级别记录事件
func LogHandler(ev Event) {
	logger.Debug("notification",
		zap.String("verb", string(ev.Verb)),
		zap.String("actor", ev.ActorID),
		zap.String("recipient", ev.RecipientID),
		zap.String("target", ev.Target.String()))
}
