package api

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestQuotaDenialUpgradeAlwaysPresent(t *testing.T) {
	d := QuotaDenial{
		Error:             "AI request limit reached",
		Dimension:         "ai-invocation",
		Limit:             200,
		Usage:             201,
		WindowMs:          3600000,
		UserTier:          "pro",
		RetryAfterSeconds: 120,
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"upgrade":null`) {
		t.Errorf("upgrade must be serialized as null, got %s", data)
	}

	hint := "Consider upgrading to Pro for increased limits"
	d.Upgrade = &hint
	data, _ = json.Marshal(d)

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["upgrade"] != hint {
		t.Errorf("upgrade = %v, want %q", m["upgrade"], hint)
	}
	for _, field := range []string{"error", "dimension", "limit", "usage", "windowMs", "userTier", "retryAfterSeconds", "degraded"} {
		if _, ok := m[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
}
