package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

var metricName = regexp.MustCompile(`odyssey_[a-z_]+`)

// exportedMetricNames touches every collector so that vectors show up in a scrape.
func exportedMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	names := map[string]bool{}

	metrics := NewMetrics()
	metrics.TransitionCommitted(accounting.VoucherStatusApproved)
	metrics.SettlementApplied("approval")
	metrics.NotifyFailed()
	metrics.TxRetried("memory")
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	for _, line := range strings.Split(scrape(t, metrics), "\n") {
		if strings.HasPrefix(line, "# TYPE ") {
			names[strings.Fields(line)[2]] = true
		}
	}

	reg := prometheus.NewRegistry()
	jobs := jobmetrics.NewMetrics(reg)
	_ = jobs.Track("ledger:gl_integrity").End(nil)
	jobs.AddIntegrityViolations("acme", accounting.ViolationBalanceDrift, 1)
	jobs.SetOpenViolations("acme", 1)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather job metrics: %v", err)
	}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	return names
}

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestLedgerAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "ledger.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var ledgerGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "ledger" {
			ledgerGroup = &spec.Groups[i]
			break
		}
	}
	if ledgerGroup == nil {
		t.Fatal("ledger alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":       {severity: "critical", runbook: "docs/runbook-ledger.md#high-error-rate"},
		"TxRetryStorm":        {severity: "warning", runbook: "docs/runbook-ledger.md#tx-retry-storm"},
		"NotifyFailures":      {severity: "warning", runbook: "docs/runbook-ledger.md#notify-failures"},
		"IntegrityViolation":  {severity: "critical", runbook: "docs/runbook-ledger.md#integrity-violation"},
		"IntegrityCheckStale": {severity: "warning", runbook: "docs/runbook-ledger.md#integrity-stale"},
	}
	exported := exportedMetricNames(t)

	if len(ledgerGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(ledgerGroup.Rules))
	}

	for _, rule := range ledgerGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			if !exported[name] {
				t.Fatalf("rule %s references unknown metric %s", rule.Alert, name)
			}
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
