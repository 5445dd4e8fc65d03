package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/autopeer-io/cabmeter/internal/trip"
)

// ErrLookupTimeout is returned when the remote lookup of a lost trip exceeds its deadline.
var ErrLookupTimeout = errors.New("reconcile: remote lookup timed out")

// PaidStatus is the payment state of the current trip as seen by the ledger.
type PaidStatus string

const (
	NotPaid       PaidStatus = "NOT_PAID"
	PartiallyPaid PaidStatus = "PARTIALLY_PAID"
	Paid          PaidStatus = "COMPLETELY_PAID"
)

// RemoteTrip is a trip record as stored by the remote ledger.
type RemoteTrip struct {
	Trip        *trip.Trip
	PaymentType string
	// Paired is set once a rider app took over the payment.
	Paired     bool
	AmountPaid float64
}

// IsDash reports whether the trip was paid through the dash app.
func (r RemoteTrip) IsDash() bool {
	return strings.EqualFold(r.PaymentType, "dash")
}

func (r RemoteTrip) PaidStatus() PaidStatus {
	switch {
	case r.IsDash() || r.Paired:
		return Paid
	case r.AmountPaid > 0:
		return PartiallyPaid
	default:
		return NotPaid
	}
}

// Ledger is the remote trip store.
type Ledger interface {
	CreateTrip(ctx context.Context, t *trip.Trip) error
	PatchTrip(ctx context.Context, id string, fields map[string]any) error
	// ListenTrip calls onChange for every remote update of trip id until stop is called.
	ListenTrip(ctx context.Context, id string, onChange func(RemoteTrip)) (stop func(), err error)
	// QueryLastUnendedTrip returns nil without error when the device has no open trip.
	QueryLastUnendedTrip(ctx context.Context, deviceID string) (*trip.Trip, error)
	WriteLog(ctx context.Context, fields map[string]any) error
}

// History is the local trip history and the recovery anchors.
type History interface {
	AppendCompletedTrip(ctx context.Context, t *trip.Trip) error
	SetDash(ctx context.Context, id string, dash bool) error
	OngoingTripID(ctx context.Context) (string, error)
	SetOngoingTripID(ctx context.Context, id string) error
	ClearOngoingTripID(ctx context.Context) error
}
