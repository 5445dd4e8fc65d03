package mqtt

import "testing"

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"cabmeter/v1/unlock/ABC", "cabmeter/v1/unlock/ABC", true},
		{"cabmeter/v1/unlock/ABC", "cabmeter/v1/unlock/XYZ", false},
		{"cabmeter/v1/trip/state/+", "cabmeter/v1/trip/state/t-1", true},
		{"cabmeter/v1/trip/state/+", "cabmeter/v1/trip/state/t-1/extra", false},
		{"cabmeter/v1/#", "cabmeter/v1/trip/query/resp/ABC", true},
		{"cabmeter/v1/+/query", "cabmeter/v1", false},
	}
	for _, tt := range tests {
		if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestTopicFilter(t *testing.T) {
	if got := topicFilter("$share/meters/cabmeter/v1/log/+"); got != "cabmeter/v1/log/+" {
		t.Errorf("topicFilter() = %q", got)
	}
	if got := topicFilter("cabmeter/v1/log/+"); got != "cabmeter/v1/log/+" {
		t.Errorf("topicFilter() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	for url, ok := range map[string]bool{
		"tcp://localhost:1883":  true,
		"wss://broker/mqtt":     true,
		"":                      false,
		"http://localhost:1883": false,
	} {
		cfg := &ClientConfig{BrokerURL: url}
		if err := cfg.Validate(); (err == nil) != ok {
			t.Errorf("Validate(%q) error = %v", url, err)
		}
	}
}
