package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/cabmeter/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the connection to the ledger broker.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify disables verification of the broker certificate. Testing only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/{suffix}/{id}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	// LookupTimeout bounds the ledger lookup of a lost trip.
	LookupTimeout time.Duration `json:"lookup-timeout" mapstructure:"lookup-timeout"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "tcp://127.0.0.1:1883",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SessionExpiry:  3600,
		TopicRoot:      "cabmeter/v1",
		LookupTimeout:  10 * time.Second,
	}
}

func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if err := o.ToClientConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.TopicRoot == "" {
		errs = append(errs, fmt.Errorf("--mqtt.topic-root must not be empty"))
	}
	if o.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--mqtt.lookup-timeout must be positive"))
	}
	return errs
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (generated when empty).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Discard the broker session on the first connect.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Root namespace of the ledger topics.")
	fs.DurationVar(&o.LookupTimeout, "mqtt.lookup-timeout", o.LookupTimeout, "How long to wait for the ledger when recovering a lost trip.")
}

// ToClientConfig builds the client configuration. The will clears the
// device's online flag under willTopic when set.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
