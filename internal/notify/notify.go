// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package notify carries session events over MQTT: live session status,
// final results, and the upload notification that triggers analysis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/glove_capture/internal/result"
)

// Connect returns a connected client with auto-reconnect.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt %s: %w", broker, token.Error())
	}
	log.Printf("notify: connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

// Uploaded announces a stored session to the analysis job.
type Uploaded struct {
	Key     string    `json:"key"`
	Locator string    `json:"locator"`
	At      time.Time `json:"at"`
}

// Publisher sends JSON messages.
type Publisher struct {
	client mqtt.Client
	QoS    byte
}

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client, QoS: 1}
}

// Publish marshals v and waits for the broker to accept it.
func (p *Publisher) Publish(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.QoS, retained, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic and waits for the subscription.
func Subscribe(client mqtt.Client, topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("notify: subscribed to %s", topic)
	return nil
}

// NotifyingSink stores through Sink and then announces the upload on Topic.
// A failed announcement fails the Put.
type NotifyingSink struct {
	Sink      result.BlobStore
	Publisher *Publisher
	Topic     string
}

func (n *NotifyingSink) Put(ctx context.Context, key string, rec *result.Record) (string, error) {
	loc, err := n.Sink.Put(ctx, key, rec)
	if err != nil {
		return "", err
	}
	msg := Uploaded{Key: key, Locator: loc, At: time.Now().UTC()}
	if err := n.Publisher.Publish(n.Topic, false, msg); err != nil {
		return loc, fmt.Errorf("announce %s: %w", key, err)
	}
	return loc, nil
}
