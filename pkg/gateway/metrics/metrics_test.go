package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionsActive.Set(3)
	m.SessionsCreated.Add(5)
	m.SessionEvents.WithLabelValues("audio_data").Inc()
	m.RelayMessagesIn.WithLabelValues("audio").Add(2)

	if got := gaugeValue(t, m.SessionsActive); got != 3 {
		t.Fatalf("sessions_active=%v, want 3", got)
	}
	if got := counterValue(t, m.SessionsCreated); got != 5 {
		t.Fatalf("sessions_created_total=%v, want 5", got)
	}
	if got := counterValue(t, m.SessionEvents.WithLabelValues("audio_data")); got != 1 {
		t.Fatalf("events_published_total(audio_data)=%v, want 1", got)
	}
	if got := counterValue(t, m.RelayMessagesIn.WithLabelValues("audio")); got != 2 {
		t.Fatalf("relay_messages_in_total(audio)=%v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"voicebridge_sessions_active",
		"voicebridge_sessions_created_total",
		"voicebridge_events_published_total",
		"voicebridge_relay_messages_in_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNewIsSafeOnFreshRegistries(t *testing.T) {
	// Each call registers into its own registry; duplicate-registration
	// panics would surface here.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
