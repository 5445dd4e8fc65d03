package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want mcu.Command
	}{
		{[]string{"pause"}, mcu.PauseTrip{Beep: mcu.DefaultBeep}},
		{[]string{"end"}, mcu.EndTrip{Beep: mcu.DefaultBeep}},
		{[]string{"extras", "250"}, mcu.SetExtras{Amount: 250, Beep: mcu.DefaultBeep}},
		{[]string{"kvalue", "1000"}, mcu.UpdateKValue{KValue: 1000}},
		{[]string{"time", "20250101120000"}, mcu.UpdateTime{Stamp: "20250101120000"}},
		{[]string{"price", "350", "70", "1000", "105"}, mcu.PriceParams{StartPrice: 350, StepPrice: 70, Threshold: 1000, SecondStepPrice: 105}},
		{[]string{"beep", "20", "20", "5"}, mcu.PlayBeep{Beep: mcu.Beep{Duration: 20, Interval: 20, Repeat: 5}}},
		{[]string{"plate", "AB1234"}, mcu.WritePlate{Plate: "AB1234"}},
		{[]string{"unlock"}, mcu.Unlock{}},
		{[]string{"read-device"}, mcu.ReadDeviceData{}},
		{[]string{"init"}, mcu.Init},
		{[]string{"end-ack"}, mcu.EndAck},
		{[]string{"enquiry"}, mcu.EnquireParameters},
		{[]string{"start", "0123456789abcdef0123456789abcdef", "paused"}, mcu.StartTrip{
			TripID: "0123456789abcdef0123456789abcdef", Paused: true, Beep: mcu.DefaultBeep,
		}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if assert.NoError(t, err, "parseCommand(%v)", tt.args) {
			assert.Equal(t, tt.want, got, "parseCommand(%v)", tt.args)
		}
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, args := range [][]string{
		{"warp"},
		{"pause", "now"},
		{"extras"},
		{"extras", "ten"},
		{"price", "1", "2", "3"},
		{"beep", "300", "0", "1"},
		{"start"},
		{"start", "id", "running"},
	} {
		_, err := parseCommand(args)
		assert.Error(t, err, "parseCommand(%v)", args)
	}
}

func TestFrameCommandRoundTrip(t *testing.T) {
	raw, err := mcu.Build(mcu.PauseTrip{Beep: mcu.DefaultBeep})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := newFrameCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"pause"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), mcu.Hex(raw))

	got, err := decodeFrame(mcu.Hex(raw), true)
	require.NoError(t, err)
	assert.Equal(t, "pause", got)

	_, err = decodeFrame("55AA", false)
	assert.Error(t, err)
}
