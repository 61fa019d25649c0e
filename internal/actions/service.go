package actions

import "github.com/nerrad567/status-core/internal/gateway"

// NotifyAction delivers a notification through a notify service. It is
// fire-and-forget: it claims no entities, contends with nothing and
// completes as soon as the call is issued.
type NotifyAction struct {
	base
	svc     gateway.ServiceCaller
	service string
	payload map[string]any
}

// NotifyConfig configures a NotifyAction.
type NotifyConfig struct {
	Service  string
	Message  string
	Title    string
	Extra    map[string]any
	Priority int
}

// NewNotify builds a notification action.
func NewNotify(cfg NotifyConfig, svc gateway.ServiceCaller, onComplete CompleteFunc, logger Logger) *NotifyAction {
	payload := map[string]any{"message": cfg.Message}
	if cfg.Title != "" {
		payload["title"] = cfg.Title
	}
	for k, v := range cfg.Extra {
		payload[k] = v
	}
	return &NotifyAction{
		base:    newBase(cfg.Priority, onComplete, logger),
		svc:     svc,
		service: cfg.Service,
		payload: payload,
	}
}

func (a *NotifyAction) Prepare() {}

// Act issues the notification and completes immediately.
func (a *NotifyAction) Act() {
	if err := a.svc.CallService(a.service, a.payload); err != nil {
		a.logger.Error("notify failed", "service", a.service, "error", err)
	}
	a.Complete(nil)
}

func (a *NotifyAction) Complete(forced []string) {
	a.finish(a, nil)
}

// Entities returns nil: notifications claim no entities.
func (a *NotifyAction) Entities() []string { return nil }

// Publisher publishes raw messages to the broker. Satisfied by the
// infrastructure MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PublishAction publishes a raw MQTT message. Like NotifyAction it is
// fire-and-forget and completes as soon as the publish is issued.
type PublishAction struct {
	base
	pub      Publisher
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// PublishConfig configures a PublishAction.
type PublishConfig struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
	Priority int
}

// NewPublish builds a raw MQTT publish action.
func NewPublish(cfg PublishConfig, pub Publisher, onComplete CompleteFunc, logger Logger) *PublishAction {
	return &PublishAction{
		base:     newBase(cfg.Priority, onComplete, logger),
		pub:      pub,
		topic:    cfg.Topic,
		payload:  []byte(cfg.Payload),
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

func (a *PublishAction) Prepare() {}

// Act publishes the message and completes immediately.
func (a *PublishAction) Act() {
	if err := a.pub.Publish(a.topic, a.payload, a.qos, a.retained); err != nil {
		a.logger.Error("publish failed", "topic", a.topic, "error", err)
	}
	a.Complete(nil)
}

func (a *PublishAction) Complete(forced []string) {
	a.finish(a, nil)
}

// Entities returns nil: publishes claim no entities.
func (a *PublishAction) Entities() []string { return nil }
