package mesh

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandHandler is called with each command received on <prefix>/command
type CommandHandler func(command string)

// MQTTClient manages the broker connection used for progress reports and
// remote job commands
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	commandHandler CommandHandler
	isConnected    bool
	mu             sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this returns nil
func InitMQTT(config *Config, handler CommandHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if config == nil {
		config = &Config{}
	}

	client := &MQTTClient{
		config:         config,
		commandHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "meshlink"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// CommandTopic returns the topic remote commands are read from
func (c *MQTTClient) CommandTopic() string {
	return publishPrefix(c.config) + "/command"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.commandHandler == nil {
		return
	}

	topic := c.CommandTopic()
	log.Printf("[MQTT] subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createCommandHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

func (c *MQTTClient) createCommandHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		command := strings.Trim(strings.TrimSpace(string(msg.Payload())), `"`)
		if command == "" {
			log.Printf("[MQTT] empty command on %s, skipping", msg.Topic())
			return
		}
		log.Printf("[MQTT] received command %q", command)
		c.commandHandler(command)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler CommandHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		commandHandler: handler,
	}
}

// publishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then
// mqtt.publishPrefix, then "meshlink"
func publishPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return "meshlink"
}

func jobTopic(prefix, name string) string {
	return fmt.Sprintf("%s/jobs/%s", prefix, name)
}
