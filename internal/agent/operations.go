package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/cabmeter/internal/mcu"
	"github.com/autopeer-io/cabmeter/internal/server"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

// ErrFirmwareDisabled is returned when no firmware bucket is configured.
var ErrFirmwareDisabled = errors.New("agent: firmware updates are disabled")

var _ server.Operator = (*Agent)(nil)

// StartTrip creates a trip and starts the meter. A paused trip starts stopped.
func (a *Agent) StartTrip(ctx context.Context, paused bool) (*trip.Trip, error) {
	t, err := a.store.Begin(paused)
	if err != nil {
		return nil, err
	}
	cmd := mcu.StartTrip{TripID: t.ID, Paused: paused, Beep: mcu.DefaultBeep}
	if err := a.exec(ctx, cmd); err != nil {
		a.store.Clear()
		return nil, err
	}
	a.log.Info("Trip started", "tripID", t.ID, "paused", paused)
	return t, nil
}

func (a *Agent) PauseTrip(ctx context.Context) error {
	if err := a.requireTrip(); err != nil {
		return err
	}
	return a.exec(ctx, mcu.PauseTrip{Beep: mcu.DefaultBeep})
}

func (a *Agent) ResumeTrip(ctx context.Context) error {
	if err := a.requireTrip(); err != nil {
		return err
	}
	return a.exec(ctx, mcu.ResumeTrip{Beep: mcu.DefaultBeep})
}

// EndTrip asks the board to end the trip. The trip is closed when the board
// answers with its end summary.
func (a *Agent) EndTrip(ctx context.Context) error {
	if err := a.requireTrip(); err != nil {
		return err
	}
	return a.exec(ctx, mcu.EndTrip{Beep: mcu.DefaultBeep})
}

// AddExtras raises the extras total by n unless it would reach the cap.
func (a *Agent) AddExtras(ctx context.Context, n int) (int, error) {
	t := a.store.Trip()
	if !t.Active() {
		return 0, trip.ErrNoTrip
	}
	total, ok := trip.AddExtras(t, n, a.extrasCap)
	if !ok {
		return int(t.Extra), fmt.Errorf("%w: %d + %d", trip.ErrExtrasLimit, int(t.Extra), n)
	}
	return total, a.exec(ctx, mcu.SetExtras{Amount: total, Beep: mcu.DefaultBeep})
}

// SubtractExtras lowers the extras total by n, never below zero.
func (a *Agent) SubtractExtras(ctx context.Context, n int) (int, error) {
	total, ok := trip.SubtractExtras(a.store.Trip(), n)
	if !ok {
		return 0, trip.ErrNoTrip
	}
	return total, a.exec(ctx, mcu.SetExtras{Amount: total, Beep: mcu.DefaultBeep})
}

// SyncTime sets the board clock to the host clock.
func (a *Agent) SyncTime(ctx context.Context) error {
	return a.exec(ctx, mcu.NewUpdateTime(a.now()))
}

func (a *Agent) SetKValue(ctx context.Context, k int) error {
	return a.exec(ctx, mcu.UpdateKValue{KValue: k})
}

func (a *Agent) WritePlate(ctx context.Context, plate string) error {
	return a.exec(ctx, mcu.WritePlate{Plate: plate})
}

// ReadDeviceData asks the board to report its device id and plate.
func (a *Agent) ReadDeviceData(ctx context.Context) error {
	return a.exec(ctx, mcu.ReadDeviceData{})
}

func (a *Agent) SetPriceParams(ctx context.Context, p mcu.PriceParams) error {
	if err := a.exec(ctx, p); err != nil {
		return err
	}
	// Read the tariff back so the status surface shows what the board took.
	return a.exec(ctx, mcu.EnquireParameters)
}

// MostRecentTrip loads the last completed trip into the store and beeps.
func (a *Agent) MostRecentTrip(ctx context.Context) (*trip.Trip, error) {
	t, err := a.history.MostRecent(ctx)
	if err != nil {
		return nil, err
	}
	a.store.SetMostRecent(t)
	a.enqueue(mcu.PlayBeep{Beep: mcu.DefaultBeep})
	return t, nil
}

// BeginFirmware starts a patch session with the image stored as object.
func (a *Agent) BeginFirmware(ctx context.Context, object, version string) error {
	if a.firmware == nil {
		return ErrFirmwareDisabled
	}
	return a.firmware.Begin(ctx, object, version)
}

func (a *Agent) requireTrip() error {
	if !a.store.Trip().Active() {
		return trip.ErrNoTrip
	}
	return nil
}

func (a *Agent) exec(ctx context.Context, cmd mcu.Command) error {
	if err := a.disp.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return nil
}
