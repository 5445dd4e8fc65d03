package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions configures the local trip history.
type StoreOptions struct {
	Path string `json:"path" mapstructure:"path"`
	// Retention is the number of completed trips kept on disk.
	Retention int `json:"retention" mapstructure:"retention"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Path:      "/var/lib/cabmeter/history.db",
		Retention: 1000,
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.Path == "" {
		errs = append(errs, fmt.Errorf("--store.path must not be empty"))
	}
	if o.Retention < 0 {
		errs = append(errs, fmt.Errorf("--store.retention must not be negative, got %d", o.Retention))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "store.path", o.Path, "Path of the trip history database.")
	fs.IntVar(&o.Retention, "store.retention", o.Retention, "Number of completed trips kept; 0 keeps all.")
}
