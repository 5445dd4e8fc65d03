package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/cabmeter/internal/mcu"
)

const frameUsage = `Commands:
  start <trip-id> [paused]     pause | resume | end
  extras <cents>               time [yyyyMMddHHmmss]
  kvalue <pulses>              price <start> <step> <threshold> <second-step>
  beep <duration> <interval> <repeat>
  plate <plate>                unlock | read-device | init | end-ack | enquiry`

func newFrameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame <command> [args...]",
		Short: "Print the wire frame of a board command",
		Long:  "Print the wire frame of a board command.\n\n" + frameUsage,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCommand(args)
			if err != nil {
				return err
			}
			raw, err := mcu.Build(c)
			if err != nil {
				return err
			}
			table := uitable.New()
			table.AddRow("COMMAND:", c.String())
			table.AddRow("CODE:", c.Code().String())
			table.AddRow("FRAME:", mcu.Hex(raw))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}
	cmd.AddCommand(newDecodeCommand())
	return cmd
}

func newDecodeCommand() *cobra.Command {
	var outbound bool
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a hex rendered frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := decodeFrame(args[0], outbound)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&outbound, "outbound", false, "Decode a frame written to the board instead of one it sent.")
	return cmd
}

func decodeFrame(s string, outbound bool) (string, error) {
	raw, err := mcu.ParseHex(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	if outbound {
		f, err := mcu.Decode(raw)
		if err != nil {
			return "", err
		}
		c, err := mcu.DecodeCommand(f)
		if err != nil {
			return "", err
		}
		return c.String(), nil
	}
	sample, err := mcu.Parse(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02X %+v", sample.Type(), sample), nil
}

func parseCommand(args []string) (mcu.Command, error) {
	name, rest := args[0], args[1:]
	ints := func(n int) ([]int, error) {
		if len(rest) != n {
			return nil, fmt.Errorf("%s takes %d arguments, got %d", name, n, len(rest))
		}
		out := make([]int, n)
		for i, a := range rest {
			v, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %q: %w", name, a, err)
			}
			out[i] = v
		}
		return out, nil
	}
	none := func(c mcu.Command) (mcu.Command, error) {
		if len(rest) != 0 {
			return nil, fmt.Errorf("%s takes no arguments", name)
		}
		return c, nil
	}

	switch name {
	case "start":
		if len(rest) < 1 || len(rest) > 2 || (len(rest) == 2 && rest[1] != "paused") {
			return nil, fmt.Errorf("usage: start <trip-id> [paused]")
		}
		return mcu.StartTrip{TripID: rest[0], Paused: len(rest) == 2, Beep: mcu.DefaultBeep}, nil
	case "pause":
		return none(mcu.PauseTrip{Beep: mcu.DefaultBeep})
	case "resume":
		return none(mcu.ResumeTrip{Beep: mcu.DefaultBeep})
	case "end":
		return none(mcu.EndTrip{Beep: mcu.DefaultBeep})
	case "extras":
		v, err := ints(1)
		if err != nil {
			return nil, err
		}
		return mcu.SetExtras{Amount: v[0], Beep: mcu.DefaultBeep}, nil
	case "time":
		switch len(rest) {
		case 0:
			return mcu.NewUpdateTime(time.Now()), nil
		case 1:
			return mcu.UpdateTime{Stamp: rest[0]}, nil
		}
		return nil, fmt.Errorf("usage: time [yyyyMMddHHmmss]")
	case "kvalue":
		v, err := ints(1)
		if err != nil {
			return nil, err
		}
		return mcu.UpdateKValue{KValue: v[0]}, nil
	case "price":
		v, err := ints(4)
		if err != nil {
			return nil, err
		}
		return mcu.PriceParams{StartPrice: v[0], StepPrice: v[1], Threshold: v[2], SecondStepPrice: v[3]}, nil
	case "beep":
		v, err := ints(3)
		if err != nil {
			return nil, err
		}
		for _, n := range v {
			if n < 0 || n > 0xFF {
				return nil, fmt.Errorf("beep: %d does not fit in a byte", n)
			}
		}
		return mcu.PlayBeep{Beep: mcu.Beep{Duration: uint8(v[0]), Interval: uint8(v[1]), Repeat: uint8(v[2])}}, nil
	case "plate":
		if len(rest) != 1 {
			return nil, fmt.Errorf("usage: plate <plate>")
		}
		return mcu.WritePlate{Plate: rest[0]}, nil
	case "unlock":
		return none(mcu.Unlock{})
	case "read-device":
		return none(mcu.ReadDeviceData{})
	case "init":
		return none(mcu.Init)
	case "end-ack":
		return none(mcu.EndAck)
	case "enquiry":
		return none(mcu.EnquireParameters)
	}
	return nil, fmt.Errorf("unknown command %q", name)
}
