package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("cabmeter/v1")
	tests := map[string]string{
		b.TripCreate("ABC"):    "cabmeter/v1/trip/create/ABC",
		b.TripPatch("ABC"):     "cabmeter/v1/trip/patch/ABC",
		b.TripState("t-1"):     "cabmeter/v1/trip/state/t-1",
		b.TripQueryReq("ABC"):  "cabmeter/v1/trip/query/req/ABC",
		b.TripQueryResp("ABC"): "cabmeter/v1/trip/query/resp/ABC",
		b.Unlock("ABC"):        "cabmeter/v1/unlock/ABC",
		b.TripStateWildcard():  "cabmeter/v1/trip/state/+",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("topic = %q, want %q", got, want)
		}
	}
}
