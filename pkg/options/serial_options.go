package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SerialOptions)(nil)

// SerialOptions configures the link to the measuring board.
type SerialOptions struct {
	Device      string        `json:"device" mapstructure:"device"`
	BaudRate    int           `json:"baud-rate" mapstructure:"baud-rate"`
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	// SettleDelay is the pause between two writes to the board.
	SettleDelay time.Duration `json:"settle-delay" mapstructure:"settle-delay"`
	// QueueCapacity bounds each dispatcher queue; the oldest entry is dropped on overflow.
	QueueCapacity int `json:"queue-capacity" mapstructure:"queue-capacity"`
}

func NewSerialOptions() *SerialOptions {
	return &SerialOptions{
		Device:        "/dev/ttyS1",
		BaudRate:      115200,
		ReadTimeout:   200 * time.Millisecond,
		SettleDelay:   200 * time.Millisecond,
		QueueCapacity: 100,
	}
}

func (o *SerialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.Device == "" {
		errs = append(errs, fmt.Errorf("--serial.device must not be empty"))
	}
	if o.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("--serial.baud-rate must be positive, got %d", o.BaudRate))
	}
	if o.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--serial.read-timeout must be positive"))
	}
	if o.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("--serial.settle-delay must not be negative"))
	}
	if o.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("--serial.queue-capacity must be positive, got %d", o.QueueCapacity))
	}
	return errs
}

func (o *SerialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Device, "serial.device", o.Device, "Serial device of the measuring board.")
	fs.IntVar(&o.BaudRate, "serial.baud-rate", o.BaudRate, "Baud rate of the board link.")
	fs.DurationVar(&o.ReadTimeout, "serial.read-timeout", o.ReadTimeout, "Read timeout of the board link.")
	fs.DurationVar(&o.SettleDelay, "serial.settle-delay", o.SettleDelay, "Pause between two frames written to the board.")
	fs.IntVar(&o.QueueCapacity, "serial.queue-capacity", o.QueueCapacity, "Capacity of the outbound and inbound frame queues.")
}
