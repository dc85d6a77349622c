package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ryansname/sensorctl/src/config"
)

// TopicHomeAssistantStatus is where Home Assistant announces online/offline
const TopicHomeAssistantStatus = "homeassistant/status"

// mqttWorker manages the MQTT connection, hands each new client to the sender
// worker and signals onlineChan when Home Assistant restarts.
func mqttWorker(
	ctx context.Context,
	cfg config.MQTTConfig,
	onlineChan chan<- struct{},
	clientChan chan<- mqtt.Client,
) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", broker)

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
			log.Println("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}

		token := client.Subscribe(TopicHomeAssistantStatus, 0, func(client mqtt.Client, msg mqtt.Message) {
			if string(msg.Payload()) != "online" {
				return
			}
			select {
			case onlineChan <- struct{}{}:
			default:
				// A re-announce is already pending
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("Failed to subscribe to topic %s: %v\n", TopicHomeAssistantStatus, token.Error())
		} else {
			log.Printf("Subscribed to topic: %s\n", TopicHomeAssistantStatus)
		}
	})

	client := mqtt.NewClient(opts)

	// With connect retry the token only completes once connected, so don't wait on it
	log.Printf("Connecting to MQTT broker at %s...\n", broker)
	client.Connect()

	// Keep worker alive until context is done
	<-ctx.Done()

	client.Disconnect(250)
	log.Println("Disconnected from MQTT broker")
}
