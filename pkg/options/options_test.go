package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	for name, o := range map[string]IOptions{
		"mqtt":   NewMqttOptions(),
		"s3":     NewS3Options(),
		"http":   NewHttpOptions(),
		"serial": NewSerialOptions(),
		"store":  NewStoreOptions(),
		"meter":  NewMeterOptions(),
	} {
		assert.Empty(t, o.Validate(), name)
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	o := NewSerialOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--serial.device=/dev/ttyUSB0", "--serial.baud-rate=9600"}))
	assert.Equal(t, "/dev/ttyUSB0", o.Device)
	assert.Equal(t, 9600, o.BaudRate)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("127.0.0.1:8088"))
	assert.NoError(t, ValidateAddress(":8088"))
	assert.Error(t, ValidateAddress("127.0.0.1"))
	assert.Error(t, ValidateAddress("127.0.0.1:99999"))
}

func TestMeterThresholdOrder(t *testing.T) {
	o := NewMeterOptions()
	o.UnlockAfter = o.WarnAfter
	assert.Len(t, o.Validate(), 1)
}

func TestMeterExtrasCapFitsDisplay(t *testing.T) {
	o := NewMeterOptions()
	o.ExtrasCap = 10000
	assert.Empty(t, o.Validate())

	o.ExtrasCap = 10001
	assert.Len(t, o.Validate(), 1)
}

func TestS3DisabledWithoutEndpoint(t *testing.T) {
	o := NewS3Options()
	o.BucketName = ""
	assert.False(t, o.Enabled())
	assert.Empty(t, o.Validate())

	o.Endpoint = "minio:9000"
	assert.Len(t, o.Validate(), 1)
}
