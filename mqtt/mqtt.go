package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	statusOnline  = `{"status":"online"}`
	statusOffline = `{"status":"offline"}`
)

// Client wraps the MQTT client with application-specific functionality.
type Client struct {
	client   paho.Client
	clientID string
	prefix   string
	enabled  bool
	log      *slog.Logger
}

// Config holds MQTT connection settings.
type Config struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	CACert            string `yaml:"ca_cert"`
	ClientCert        string `yaml:"client_cert"`
	ClientKey         string `yaml:"client_key"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	TopicPrefix       string `yaml:"topic_prefix"`       // default "rfidexec"
	PublishDuplicates bool   `yaml:"publish_duplicates"` // also publish suppressed repeats
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "rfidexec"
	}

	c := &Client{
		clientID: clientID,
		prefix:   prefix,
		log:      logger.With("component", "mqtt"),
	}

	// If no host configured, return disabled client
	if cfg.Host == "" {
		c.log.Info("MQTT disabled (no host configured)")
		return c, nil
	}
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required when MQTT is enabled")
	}

	c.enabled = true

	var broker string
	var tlsConfig *tls.Config

	hasTLS := cfg.CACert != "" || cfg.ClientCert != ""

	if hasTLS {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		c.log.Info("MQTT using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60*time.Second).
		SetWill(c.StatusTopic(), statusOffline, 1, true).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)

	paho.ERROR = log.New(log.Writer(), "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(log.Writer(), "[MQTT CRIT] ", 0)
	paho.WARN = log.New(log.Writer(), "[MQTT WARN] ", 0)

	return c, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the MQTT broker, retrying until it succeeds. It
// should be called as a goroutine. No-op if disabled.
func (c *Client) Connect() error {
	if !c.enabled {
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect publishes the offline status and disconnects. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	if c.client.IsConnected() {
		c.client.Publish(c.StatusTopic(), 1, true, statusOffline).WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
}

// Publish publishes a message to a topic without waiting for delivery.
// No-op if disabled.
func (c *Client) Publish(topic string, payload []byte) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// ScanTopic is where scan results are published.
func (c *Client) ScanTopic() string {
	return fmt.Sprintf("%s/%s/scan", c.prefix, c.clientID)
}

// StatusTopic carries the retained online/offline status.
func (c *Client) StatusTopic() string {
	return fmt.Sprintf("%s/%s/status", c.prefix, c.clientID)
}

func (c *Client) handleConnect(client paho.Client) {
	c.log.Info("MQTT connection established")
	client.Publish(c.StatusTopic(), 1, true, statusOnline)
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	c.log.Warn("MQTT connection lost", "error", err)
}
