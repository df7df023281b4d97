package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewGoChannelBus 创建进程内事件总线
func NewGoChannelBus(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// WatermillSink 通过watermill发布事件，topic为 prefix + 事件类型（对外导出）
type WatermillSink struct {
	publisher   message.Publisher
	topicPrefix string
}

// NewWatermillSink 创建WatermillSink
func NewWatermillSink(publisher message.Publisher, topicPrefix string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topicPrefix: topicPrefix}
}

// Topic 返回事件对应的topic
func (s *WatermillSink) Topic(event TriggerEvent) string {
	return s.topicPrefix + string(event)
}

// Notify 实现Sink接口
func (s *WatermillSink) Notify(ctx context.Context, event TriggerEvent, payload Event) error {
	payload.Type = event
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(payload.ID, body)
	msg.Metadata.Set("event_type", string(event))
	msg.Metadata.Set("tenant_id", payload.TenantID)
	msg.Metadata.Set("task_id", payload.TaskID)
	msg.Metadata.Set("timestamp", payload.OccurredAt.Format(time.RFC3339Nano))
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.Topic(event), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// DecodeMessage 从watermill消息还原事件
func DecodeMessage(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("反序列化事件失败: %w", err)
	}
	return ev, nil
}

var _ Sink = (*WatermillSink)(nil)
