// Package satellite bridges ESP32 voice satellites to the chat engine
// over MQTT. Satellites publish transcribed questions on the ask topic
// and play back whatever lands on the reply topic; the bridge also
// maintains a retained availability topic with an MQTT will so Home
// Assistant notices when CAAL goes down.
package satellite

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/AbdulShahzeb/CAAL/internal/config"
)

// AskFunc runs one conversational turn for a satellite and returns
// the spoken reply plus the session id the turn ran under. It is the
// MQTT front end's adapter onto the turn coordinator.
type AskFunc func(ctx context.Context, sessionID, text string) (reply, sid string, err error)

// askMessage is the payload satellites publish on the ask topic.
type askMessage struct {
	Text       string `json:"text"`
	SessionID  string `json:"session_id,omitempty"`
	ReplyTopic string `json:"reply_topic,omitempty"`
}

// replyMessage is published on the reply topic.
type replyMessage struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Bridge is the MQTT satellite front end.
type Bridge struct {
	cfg    config.MQTTConfig
	ask    AskFunc
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewBridge creates a bridge but does not connect; call Start.
func NewBridge(cfg config.MQTTConfig, ask AskFunc, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, ask: ask, logger: logger}
}

func (b *Bridge) baseTopic() string         { return "caal/" + b.cfg.DeviceName }
func (b *Bridge) askTopic() string          { return b.baseTopic() + "/ask" }
func (b *Bridge) replyTopic() string        { return b.baseTopic() + "/reply" }
func (b *Bridge) availabilityTopic() string { return b.baseTopic() + "/availability" }

// Start connects to the broker, subscribes to the ask topic, and
// blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected", "broker", b.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: b.askTopic(), QoS: 1}},
			}); err != nil {
				b.logger.Error("mqtt subscribe failed", "topic", b.askTopic(), "error", err)
				return
			}
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "caal-" + b.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleAsk(ctx, pr.Packet)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes offline availability and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// handleAsk runs one satellite question through the chat engine and
// publishes the reply. Failures become a spoken apology rather than
// silence at the speaker.
func (b *Bridge) handleAsk(ctx context.Context, pkt *paho.Publish) {
	msg := parseAsk(pkt.Payload)
	if msg.Text == "" {
		b.logger.Warn("ignoring empty ask message", "topic", pkt.Topic)
		return
	}

	b.logger.Info("satellite ask", "text", msg.Text, "session_id", msg.SessionID)

	reply, sid, err := b.ask(ctx, msg.SessionID, msg.Text)
	if err != nil {
		b.logger.Error("satellite turn failed", "error", err)
		reply = "Sorry, something went wrong."
		sid = msg.SessionID
	}

	topic := msg.ReplyTopic
	if topic == "" {
		topic = b.replyTopic()
	}
	b.publishReply(ctx, topic, replyMessage{Text: reply, SessionID: sid})
}

// parseAsk decodes an ask payload. Bare text payloads work too; older
// satellite firmware publishes the transcript directly.
func parseAsk(payload []byte) askMessage {
	var msg askMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return askMessage{Text: string(payload)}
	}
	return msg
}

func (b *Bridge) publishReply(ctx context.Context, topic string, msg replyMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal reply", "error", err)
		return
	}
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		b.logger.Error("publish reply failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("publish availability failed", "error", err)
	}
}
