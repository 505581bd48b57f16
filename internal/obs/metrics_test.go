package obs

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAuthMetrics(reg)
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}
	m.Observe("authenticate", "success")
	m.Observe("authenticate", "success")
	m.Observe("authenticate", "rejected")
	m.Lockout()
	m.ObserveVerify(20 * time.Millisecond)

	if got := testutil.ToFloat64(m.events.WithLabelValues("authenticate", "success")); got != 2 {
		t.Fatalf("success count=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lockouts); got != 1 {
		t.Fatalf("lockouts=%v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.verify); n != 1 {
		t.Fatalf("verify collectors=%d, want 1", n)
	}

	if _, err := NewAuthMetrics(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestNilAuthMetricsIsNoop(t *testing.T) {
	var m *AuthMetrics
	m.Observe("x", "y")
	m.Lockout()
	m.ObserveVerify(time.Second)
}

func TestConfigureLogger(t *testing.T) {
	var buf bytes.Buffer
	l := ConfigureLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	defer ConfigureLogger(LogConfig{Level: "info"})

	l.WithField("component", "test").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "test" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
