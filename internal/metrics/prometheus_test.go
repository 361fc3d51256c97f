package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/taskbus/internal/bus"
)

func TestPrometheusObserverRecordsLifecycleEvents(t *testing.T) {
	o := NewPrometheusObserver("taskbus_test")

	o.OnPut("sum", 1)
	o.OnDeliver("sum", 1, 1)
	o.OnAck("sum", 1)
	o.OnNack("sub", 2)
	o.OnPromote("sum", 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	o.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`taskbus_test_put_total{kind="sum"} 1`,
		`taskbus_test_deliver_total{kind="sum"} 1`,
		`taskbus_test_ack_total{kind="sum"} 1`,
		`taskbus_test_nack_total{kind="sub"} 1`,
		`taskbus_test_promoted_total{kind="sum"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestPrometheusObserverSatisfiesBusObserver(t *testing.T) {
	var _ bus.Observer = NewPrometheusObserver("taskbus_test2")
}
