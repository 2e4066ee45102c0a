package forward

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTSink publishes updates to an MQTT broker. Topics are
// {prefix}/{session_id}/{type}.
type MQTTSink struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

// ConnectMQTT connects to the broker. The paho client auto-reconnects
// after connection loss; publishes while disconnected are dropped.
func ConnectMQTT(opts MQTTOptions) (*MQTTSink, error) {
	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = "lt-engine"
	}
	s := &MQTTSink{
		prefix: prefix,
		log:    opts.Log.With().Str("component", "mqtt_sink").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	s.conn = mqtt.NewClient(clientOpts)
	token := s.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("forward: mqtt connect: %w", err)
	}
	return s, nil
}

func (s *MQTTSink) onConnect(_ mqtt.Client) {
	s.connected.Store(true)
	s.log.Info().Str("prefix", s.prefix).Msg("MQTT connected")
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.log.Warn().Err(err).Msg("MQTT connection lost, will auto-reconnect")
}

// Forward publishes the update at QoS 0. Returns an error while the
// broker is unreachable.
func (s *MQTTSink) Forward(u Update) error {
	if !s.connected.Load() {
		return fmt.Errorf("forward: mqtt not connected")
	}
	payload, err := marshalUpdate(u)
	if err != nil {
		return fmt.Errorf("forward: encode update: %w", err)
	}
	topic := s.prefix + "/" + u.SessionID + "/" + u.Type
	s.conn.Publish(topic, 0, false, payload)
	return nil
}

func (s *MQTTSink) IsConnected() bool {
	return s.connected.Load()
}

func (s *MQTTSink) Close() {
	s.conn.Disconnect(1000)
}
