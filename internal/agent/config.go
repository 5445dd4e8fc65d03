package agent

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/cabmeter/internal/dispatcher"
	"github.com/autopeer-io/cabmeter/internal/firmware"
	"github.com/autopeer-io/cabmeter/internal/history"
	"github.com/autopeer-io/cabmeter/internal/ledger"
	"github.com/autopeer-io/cabmeter/internal/lock"
	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/serialport"
	"github.com/autopeer-io/cabmeter/internal/server"
	"github.com/autopeer-io/cabmeter/internal/trip"
	"github.com/autopeer-io/cabmeter/pkg/log"
	"github.com/autopeer-io/cabmeter/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/cabmeter/pkg/mqtt/topic"
	"github.com/autopeer-io/cabmeter/pkg/options"
)

type Config struct {
	SerialOptions *options.SerialOptions
	MqttOptions   *options.MqttOptions
	StoreOptions  *options.StoreOptions
	S3Options     *options.S3Options
	HttpOptions   *options.HttpOptions
	MeterOptions  *options.MeterOptions
}

// NewAgent opens the history database and the serial link and wires every
// component. Nothing runs until Agent.Run.
func (cfg *Config) NewAgent() (*Agent, error) {
	hist, err := history.Open(cfg.StoreOptions.Path, history.WithRetention(cfg.StoreOptions.Retention))
	if err != nil {
		return nil, err
	}

	// The last known identity scopes the ledger and the will message before
	// the board reports in.
	identity, err := hist.Identity(context.Background())
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		_ = hist.Close()
		return nil, err
	}

	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	mqttClient, err := cfg.newMqttClient(topics, identity.DeviceID)
	if err != nil {
		_ = hist.Close()
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	port, err := serialport.Open(serialport.Config{
		Device:      cfg.SerialOptions.Device,
		BaudRate:    cfg.SerialOptions.BaudRate,
		ReadTimeout: cfg.SerialOptions.ReadTimeout,
	})
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	var source firmware.Source
	if cfg.S3Options.Enabled() {
		if source, err = firmware.NewMinIOSource(cfg.S3Options); err != nil {
			_ = port.Close()
			_ = hist.Close()
			return nil, err
		}
	}

	a := build(components{
		port:     port,
		mqtt:     mqttClient,
		topics:   topics,
		history:  hist,
		identity: identity,
		source:   source,
	}, cfg)
	return a, nil
}

func (cfg *Config) newMqttClient(topics *mqtttopic.Builder, deviceID string) (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" && deviceID != "" {
		mqttConfig.ClientID = "cabmeter-" + deviceID
	}

	if deviceID != "" {
		willTopic, willPayload, err := ledger.OfflineWill(topics, deviceID)
		if err != nil {
			return nil, err
		}
		mqttConfig.WillTopic = willTopic
		mqttConfig.WillPayload = willPayload
		mqttConfig.WillQoS = 1
		mqttConfig.WillRetain = true
	}

	return mqtt.NewClient(mqttConfig)
}

// components are the resources an Agent is assembled from.
type components struct {
	port     transport
	mqtt     mqtt.Client
	topics   *mqtttopic.Builder
	history  *history.Store
	identity trip.DeviceIdentity
	source   firmware.Source
}

func build(c components, cfg *Config) *Agent {
	a := &Agent{
		port:      c.port,
		mqtt:      c.mqtt,
		history:   c.history,
		extrasCap: cfg.MeterOptions.ExtrasCap,
		clock:     clock.RealClock{},
		log:       log.WithName("agent"),
	}

	a.store = trip.NewStore()
	if !c.identity.IsZero() {
		a.store.SetIdentity(c.identity)
	}

	a.disp = dispatcher.New(c.port, dispatcher.HandlerFunc(a.HandleFrame),
		dispatcher.WithSettleDelay(cfg.SerialOptions.SettleDelay),
		dispatcher.WithCapacity(cfg.SerialOptions.QueueCapacity),
		dispatcher.WithHandshake(),
	)

	a.ledger = ledger.New(c.mqtt, c.topics, ledger.WithUnlockHandler(a.remoteUnlock))
	a.engine = reconcile.New(a.store, a.ledger, c.history,
		reconcile.WithLookupTimeout(cfg.MqttOptions.LookupTimeout))
	a.lock = lock.New(a.store, a.disp, a.ledger,
		lock.WithLogger(log.Logr().WithName("lock")),
		lock.WithThresholds(lock.Thresholds{
			Lock:    cfg.MeterOptions.LockAfter,
			Warning: cfg.MeterOptions.WarnAfter,
			Unlock:  cfg.MeterOptions.UnlockAfter,
		}),
	)

	if c.source != nil {
		a.firmware = firmware.NewManager(c.source, a.disp, cfg.S3Options.CacheDir)
	}

	if cfg.HttpOptions.Addr != "" {
		deps := server.Deps{
			Trips:    a.store,
			Lock:     a.lock,
			Payment:  a.engine,
			History:  c.history,
			Ready:    a.ledger,
			Operator: a,
		}
		if a.firmware != nil {
			deps.Firmware = a.firmware
		}
		a.server = server.New(deps)
		a.httpAddr = cfg.HttpOptions.Addr
		a.httpTimeout = cfg.HttpOptions.Timeout
	}
	return a
}
