package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file into the process environment if one exists.
// Missing files are not an error; variables already set win.
func LoadEnv(filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}
}

// ApplyEnv overrides deployment values and secrets from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.Port = port
		} else {
			log.Printf("Warning: ignoring MQTT_PORT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Sensors.SerialPort = v
	}
	if v := os.Getenv("STATUS_LISTEN"); v != "" {
		c.Status.Listen = v
	}
}
