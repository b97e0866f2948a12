package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  url: https://docs.google.com/spreadsheets/d/e/x/pub?output=csv&range=A100:A100
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Environment != "development" || c.Server.Port != 8080 || c.Log.Level != "info" {
		t.Fatalf("unexpected defaults: env=%s port=%d level=%s", c.Environment, c.Server.Port, c.Log.Level)
	}
	if c.Scheduler.BaseDelay != 15*time.Second || c.Scheduler.MaxRetries != 3 {
		t.Fatalf("unexpected scheduler defaults: %+v", c.Scheduler)
	}
	if c.Stabilizer.WindowSize != 5 || c.Stabilizer.ResetThreshold != 0.5 {
		t.Fatalf("unexpected stabilizer defaults: %+v", c.Stabilizer)
	}
	if !c.Source.CacheBust || c.Events.Backend != "none" || c.Events.AMQP.Exchange != "kaspull" {
		t.Fatalf("unexpected source/events defaults")
	}
	if c.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr %s", c.Addr())
	}
}

func TestLoadKeepsExplicitFalse(t *testing.T) {
	path := writeConfig(t, `
source:
  url: https://example.com/balance.csv
  cache_bust: false
metrics:
  enabled: false
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Source.CacheBust || c.Metrics.Enabled {
		t.Fatalf("explicit false overwritten by defaults")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing url": `
environment: production
`,
		"min above base": `
source: {url: "https://example.com/x"}
scheduler: {min_delay: 30s, base_delay: 15s}
`,
		"base above max": `
source: {url: "https://example.com/x"}
scheduler: {base_delay: 5m, max_delay: 1m}
`,
		"kafka without brokers": `
source: {url: "https://example.com/x"}
events: {backend: kafka}
`,
		"amqp without dsn": `
source: {url: "https://example.com/x"}
events: {backend: amqp}
`,
		"clickhouse without host": `
source: {url: "https://example.com/x"}
clickhouse: {enabled: true}
`,
		"unknown backend": `
source: {url: "https://example.com/x"}
events: {backend: nats}
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
source:
  url: https://example.com/from-file
events:
  backend: kafka
`)
	t.Setenv("KASPULL_SOURCE_URL", "https://example.com/override")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "cache:6379")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Source.URL != "https://example.com/override" {
		t.Fatalf("url not overridden: %s", c.Source.URL)
	}
	if strings.Join(c.Events.Kafka.Brokers, ",") != "k1:9092,k2:9092" {
		t.Fatalf("brokers not overridden: %v", c.Events.Kafka.Brokers)
	}
	if c.Log.Level != "debug" || !c.Redis.Enabled || c.Redis.Addr != "cache:6379" {
		t.Fatalf("unexpected overrides: level=%s redis=%+v", c.Log.Level, c.Redis)
	}
}
