package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/iancoleman/strcase"

	"github.com/ryansname/sensorctl/src/config"
)

// maxQueuedMessages bounds the backlog kept while the broker is unreachable
const maxQueuedMessages = 100

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send hands a message to the sender worker. It never blocks the caller; if
// the worker is backed up the message is dropped.
func (s *MQTTSender) Send(msg MQTTMessage) {
	select {
	case s.ch <- msg:
	default:
		log.Printf("MQTT sender channel full, dropping message to %s\n", msg.Topic)
	}
}

// DeviceInfo identifies this node in Home Assistant
type DeviceInfo struct {
	Name         string
	Manufacturer string
}

// ID returns the device id used in topics and unique ids
func (d DeviceInfo) ID() string {
	return strcase.ToSnake(d.Name)
}

// StateTopic returns the single JSON state topic shared by every entity
func (d DeviceInfo) StateTopic() string {
	return "homeassistant/sensor/" + d.ID() + "/state"
}

// CreateSensorEntity creates a Home Assistant sensor for one channel via MQTT
// discovery. The entity reads its value from the shared state topic.
func (s *MQTTSender) CreateSensorEntity(device DeviceInfo, ch config.ChannelConfig) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		DeviceClass      string         `json:"device_class,omitempty"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	deviceId := device.ID()
	jsonKey := ch.Key

	deviceClass := "temperature"
	model := "DS18B20"
	switch ch.Kind {
	case config.KindComboHumidity:
		deviceClass = "humidity"
		model = "DHT"
	case config.KindComboTemperature:
		model = "DHT"
	}

	entity := haEntityConfig{
		Name:             ch.Name,
		DeviceClass:      deviceClass,
		StateTopic:       device.StateTopic(),
		UnitOfMeasure:    ch.Unit,
		ValueTemplate:    "{{ value_json." + ch.Key + " }}",
		UniqueId:         deviceId + "_" + jsonKey,
		StateClass:       "measurement",
		DisplayPrecision: 1,
		Device: haDeviceConfig{
			Identifiers:  []string{deviceId},
			Name:         device.Name,
			Manufacturer: device.Manufacturer,
			Model:        model,
		},
	}

	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   "homeassistant/sensor/" + deviceId + "_" + jsonKey + "/config",
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})

	return nil
}

// PublishState publishes the live value of every channel that has one
func (s *MQTTSender) PublishState(device DeviceInfo, values map[string]float64) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   device.StateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	return nil
}

// isDiscoveryTopic checks if a topic is an MQTT discovery config topic
func isDiscoveryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/config")
}

// enqueue appends msg to the offline backlog, dropping the oldest live state
// message once the backlog is full. Discovery messages are never dropped.
func enqueue(queue []MQTTMessage, msg MQTTMessage) []MQTTMessage {
	if len(queue) >= maxQueuedMessages {
		for i, queued := range queue {
			if !isDiscoveryTopic(queued.Topic) {
				queue = append(queue[:i], queue[i+1:]...)
				break
			}
		}
	}
	return append(queue, msg)
}

// mqttSenderWorker handles outgoing MQTT messages with queuing
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
			} else {
				messageQueue = enqueue(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

// discoveryWorker publishes the discovery config of every channel at startup
// and again whenever Home Assistant comes back online.
func discoveryWorker(
	ctx context.Context,
	sender *MQTTSender,
	device DeviceInfo,
	channels []config.ChannelConfig,
	onlineChan <-chan struct{},
) {
	announce := func() {
		for _, ch := range channels {
			if err := sender.CreateSensorEntity(device, ch); err != nil {
				log.Printf("Failed to create %s entity: %v\n", ch.Key, err)
			}
		}
		log.Printf("Home Assistant entities created for %s\n", device.Name)
	}

	announce()
	for {
		select {
		case <-onlineChan:
			log.Println("Home Assistant online, re-publishing discovery")
			announce()
		case <-ctx.Done():
			return
		}
	}
}
