package main

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher mirrors stream lifecycle events (and optionally per-tick
// samples) to an MQTT broker. Publishing is fire-and-forget; a disconnected
// broker never blocks the acquisition loop.
type MQTTPublisher struct {
	client mqtt.Client
	config *MQTTConfig
}

// SamplePayload is the MQTT message for a per-tick published sample
type SamplePayload struct {
	Timestamp int64     `json:"timestamp"`
	Raw       []float64 `json:"raw"`
}

// EventPayload is the MQTT message for a stream lifecycle event
type EventPayload struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
}

// generateClientID creates a random client ID for the MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "eegstream_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker and returns the publisher
func NewMQTTPublisher(config *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)
	return &MQTTPublisher{client: client, config: config}, nil
}

// PublishSample publishes a per-tick sample when publish_samples is enabled
func (p *MQTTPublisher) PublishSample(raw []float64) {
	if !p.config.PublishSamples {
		return
	}
	payload := SamplePayload{Timestamp: time.Now().Unix(), Raw: raw}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: marshal sample: %v", err)
		return
	}
	p.client.Publish(p.config.TopicPrefix+"/samples", 0, false, data)
}

// PublishEvent publishes a stream lifecycle event
func (p *MQTTPublisher) PublishEvent(event string) {
	payload := EventPayload{Timestamp: time.Now().Unix(), Event: event}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: marshal event: %v", err)
		return
	}
	p.client.Publish(p.config.TopicPrefix+"/events", 0, false, data)
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
