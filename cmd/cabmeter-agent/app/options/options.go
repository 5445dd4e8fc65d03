package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/cabmeter/internal/agent"
	"github.com/autopeer-io/cabmeter/pkg/app"
	"github.com/autopeer-io/cabmeter/pkg/log"
	"github.com/autopeer-io/cabmeter/pkg/options"
)

type AgentOptions struct {
	SerialOptions *options.SerialOptions `json:"serial" mapstructure:"serial"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	StoreOptions  *options.StoreOptions  `json:"store" mapstructure:"store"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	MeterOptions  *options.MeterOptions  `json:"meter" mapstructure:"meter"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		SerialOptions: options.NewSerialOptions(),
		MqttOptions:   options.NewMqttOptions(),
		StoreOptions:  options.NewStoreOptions(),
		S3Options:     options.NewS3Options(),
		HttpOptions:   options.NewHttpOptions(),
		MeterOptions:  options.NewMeterOptions(),
		Log:           log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MeterOptions.AddFlags(fss.FlagSet("meter"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MeterOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		SerialOptions: o.SerialOptions,
		MqttOptions:   o.MqttOptions,
		StoreOptions:  o.StoreOptions,
		S3Options:     o.S3Options,
		HttpOptions:   o.HttpOptions,
		MeterOptions:  o.MeterOptions,
	}, nil
}
