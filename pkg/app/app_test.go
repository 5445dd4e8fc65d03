package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type linkOptions struct {
	Link *linkGroup `mapstructure:"link"`
}

type linkGroup struct {
	Device  string        `mapstructure:"device"`
	Baud    int           `mapstructure:"baud"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func newLinkOptions() *linkOptions {
	return &linkOptions{Link: &linkGroup{Device: "/dev/ttyS1", Baud: 115200, Timeout: time.Second}}
}

func (o *linkOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("link")
	fs.StringVar(&o.Link.Device, "link.device", o.Link.Device, "device")
	fs.IntVar(&o.Link.Baud, "link.baud", o.Link.Baud, "baud")
	fs.DurationVar(&o.Link.Timeout, "link.timeout", o.Link.Timeout, "timeout")
	return fss
}

func (o *linkOptions) Complete() error { return nil }

func (o *linkOptions) Validate() error {
	if o.Link.Baud <= 0 {
		return errors.New("baud must be positive")
	}
	return nil
}

func run(t *testing.T, opts *linkOptions, args ...string) error {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	a := NewApp("link-test", "test", WithOptions(opts), WithDefaultValidArgs(),
		WithRunFunc(func() error { return nil }))
	cmd := a.Command()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestFlagsReachOptions(t *testing.T) {
	opts := newLinkOptions()
	require.NoError(t, run(t, opts, "--link.device=/dev/ttyUSB0", "--link.timeout=250ms"))
	assert.Equal(t, "/dev/ttyUSB0", opts.Link.Device)
	assert.Equal(t, 115200, opts.Link.Baud)
	assert.Equal(t, 250*time.Millisecond, opts.Link.Timeout)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.yaml")
	require.NoError(t, os.WriteFile(path, []byte("link:\n  device: /dev/ttyAMA0\n  baud: 9600\n"), 0o600))

	opts := newLinkOptions()
	require.NoError(t, run(t, opts, "--config", path, "--link.baud=19200"))
	assert.Equal(t, "/dev/ttyAMA0", opts.Link.Device)
	assert.Equal(t, 19200, opts.Link.Baud, "flags override the file")
}

func TestValidationAndArgs(t *testing.T) {
	assert.Error(t, run(t, newLinkOptions(), "--link.baud=0"))
	assert.Error(t, run(t, newLinkOptions(), "extra"))
}
