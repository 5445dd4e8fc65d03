package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the status server.
type HttpOptions struct {
	// Addr is the listen address. The server is disabled when empty.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing its response.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Addr:    "127.0.0.1:8088",
		Timeout: 30 * time.Second,
	}
}

func (o *HttpOptions) Validate() []error {
	if o == nil || o.Addr == "" {
		return nil
	}

	errors := []error{}
	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	return errors
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Status server bind address and port; empty disables it.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read and write timeout of the status server.")
}
