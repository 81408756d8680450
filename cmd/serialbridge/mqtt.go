package main

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	serial "github.com/luhtfiimanal/go-serial-bridge"
)

const mqttTimeout = 10 * time.Second

// mqttBridge publishes received lines to <topic>/rx and writes messages
// arriving on <topic>/tx to the default serial connection.
type mqttBridge struct {
	client mqtt.Client
	topic  string
}

func newMQTTBridge(broker, clientID, topic string) (*mqttBridge, error) {
	b := &mqttBridge{topic: topic}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)
	// Subscribe on every (re)connect; the broker forgets non-persistent sessions.
	opts.SetOnConnectHandler(b.subscribe)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	b.client = mqtt.NewClient(opts)
	tok := b.client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, errors.New("mqtt connect: timeout")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	log.Info().Str("broker", broker).Str("topic", topic).Msg("mqtt connected")
	return b, nil
}

func (b *mqttBridge) subscribe(c mqtt.Client) {
	tok := c.Subscribe(b.txTopic(), 1, b.forward)
	if tok.WaitTimeout(mqttTimeout) && tok.Error() != nil {
		log.Warn().Err(tok.Error()).Str("topic", b.txTopic()).Msg("mqtt subscribe")
	}
}

// forward writes a message from <topic>/tx to the default serial connection.
func (b *mqttBridge) forward(_ mqtt.Client, m mqtt.Message) {
	serial.Write(string(m.Payload()))
}

func (b *mqttBridge) rxTopic() string { return b.topic + "/rx" }
func (b *mqttBridge) txTopic() string { return b.topic + "/tx" }

// Publish runs on the consumer tick, so it does not wait for the broker ack.
func (b *mqttBridge) Publish(line string) {
	b.client.Publish(b.rxTopic(), 0, false, line)
}

func (b *mqttBridge) Close() {
	b.client.Disconnect(250)
}
