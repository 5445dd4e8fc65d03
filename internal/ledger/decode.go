package ledger

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/cabmeter/internal/reconcile"
	"github.com/autopeer-io/cabmeter/internal/trip"
)

func decodeRemoteTrip(payload []byte) (reconcile.RemoteTrip, error) {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, msg); err != nil {
		return reconcile.RemoteTrip{}, fmt.Errorf("ledger: decode trip state: %w", err)
	}
	f := msg.GetFields()
	return reconcile.RemoteTrip{
		Trip:        decodeTrip(msg),
		PaymentType: f["payment_type"].GetStringValue(),
		Paired:      f["paired"].GetBoolValue(),
		AmountPaid:  f["amount_paid"].GetNumberValue(),
	}, nil
}

func decodeTrip(msg *structpb.Struct) *trip.Trip {
	f := msg.GetFields()
	t := &trip.Trip{
		ID:                   f["id"].GetStringValue(),
		LicensePlate:         f["license_plate"].GetStringValue(),
		DeviceID:             f["device_id"].GetStringValue(),
		Status:               trip.Status(f["trip_status"].GetStringValue()),
		Fare:                 f["fare"].GetNumberValue(),
		Extra:                f["extra"].GetNumberValue(),
		TotalFare:            f["trip_total"].GetNumberValue(),
		DistanceMeters:       f["distance"].GetNumberValue(),
		WaitSeconds:          int64(f["wait_time"].GetNumberValue()),
		OverspeedSeconds:     int(f["overspeed_duration"].GetNumberValue()),
		AbnormalPulseCounter: int(f["abnormal_pulse_counter"].GetNumberValue()),
		OverspeedCounter:     int(f["overspeed_counter"].GetNumberValue()),
		MCUStatusCode:        int(f["mcu_status"].GetNumberValue()),
		IsDash:               f["is_dash"].GetBoolValue(),
	}
	if ts, ok := parseTime(f["trip_start"]); ok {
		t.StartTime = ts
	}
	if ts, ok := parseTime(f["trip_pause"]); ok {
		t.PauseTime = &ts
	}
	if ts, ok := parseTime(f["trip_end"]); ok {
		t.EndTime = &ts
	}
	return t
}

func parseTime(v *structpb.Value) (time.Time, bool) {
	s := v.GetStringValue()
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
