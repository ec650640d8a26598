package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nao1215/rental/pkg/event"
)

// publishTimeout はMQTTの配信完了を待つ最大時間。
const publishTimeout = 5 * time.Second

// MQTTPublisher はイベントをMQTTブローカーへ配信する。
// トピックは "<topic>/<イベント種別>" となる。
type MQTTPublisher struct {
	// client はMQTTクライアント。
	client mqtt.Client
	// topic はトピックの接頭辞。
	topic string
	// qos は配信のQoS。
	qos byte
}

// NewMQTTPublisher はブローカーに接続し、新しいMQTTPublisherを生成する。
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTTブローカーへの接続に失敗: %w", token.Error())
	}
	return newMQTTPublisher(client, topic), nil
}

func newMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  topic,
		qos:    1,
	}
}

// Publish はイベントをJSONとして配信する。
func (p *MQTTPublisher) Publish(_ context.Context, ev *event.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}

	topic := p.topic + "/" + string(ev.EventType)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT配信がタイムアウト: topic=%s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT配信に失敗: topic=%s: %w", topic, err)
	}
	return nil
}

// Close はブローカーとの接続を切断する。
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
