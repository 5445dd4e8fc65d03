package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MeterOptions)(nil)

// MeterOptions tunes the fare meter behaviour.
type MeterOptions struct {
	// ExtrasCap is the upper bound of the extras counter.
	ExtrasCap int `json:"extras-cap" mapstructure:"extras-cap"`

	// LockAfter is the overspeed counter value that locks the meter.
	LockAfter int `json:"lock-after" mapstructure:"lock-after"`
	// WarnAfter is the counter value that plays the warning beep.
	WarnAfter int `json:"warn-after" mapstructure:"warn-after"`
	// UnlockAfter is the counter value that unlocks the meter.
	UnlockAfter int `json:"unlock-after" mapstructure:"unlock-after"`
}

func NewMeterOptions() *MeterOptions {
	return &MeterOptions{
		ExtrasCap:   1000,
		LockAfter:   3,
		WarnAfter:   30,
		UnlockAfter: 40,
	}
}

func (o *MeterOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.ExtrasCap <= 0 || o.ExtrasCap > 10000 {
		errs = append(errs, fmt.Errorf("--meter.extras-cap must be in (0, 10000], got %d", o.ExtrasCap))
	}
	if o.LockAfter <= 0 || o.WarnAfter < o.LockAfter || o.UnlockAfter <= o.WarnAfter {
		errs = append(errs, fmt.Errorf("lock thresholds must satisfy 0 < lock-after <= warn-after < unlock-after, got %d/%d/%d",
			o.LockAfter, o.WarnAfter, o.UnlockAfter))
	}
	return errs
}

func (o *MeterOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ExtrasCap, "meter.extras-cap", o.ExtrasCap, "Upper bound of the extras counter.")
	fs.IntVar(&o.LockAfter, "meter.lock-after", o.LockAfter, "Overspeed counter value that locks the meter.")
	fs.IntVar(&o.WarnAfter, "meter.warn-after", o.WarnAfter, "Overspeed counter value that plays the warning beep.")
	fs.IntVar(&o.UnlockAfter, "meter.unlock-after", o.UnlockAfter, "Overspeed counter value that unlocks the meter.")
}
