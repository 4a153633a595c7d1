package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/orderdesk/internal/storage"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "orderdesk.yaml", `
order_store:
  base_url: http://orders.internal:5001/
  timeout_seconds: 3
  storage:
    driver: memory
assistant:
  max_tools_per_turn: 2
providers:
  default: ollama
  ollama:
    model: llama3.1
gateways:
  http:
    enabled: true
    listen_addr: ":8080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.OrderStore.StoreBaseURL(); got != "http://orders.internal:5001" {
		t.Errorf("StoreBaseURL = %q", got)
	}
	if got := cfg.OrderStore.Timeout(); got != 3*time.Second {
		t.Errorf("Timeout = %v", got)
	}
	if cfg.OrderStore.StorageDriver() != storage.DriverMemory {
		t.Errorf("driver = %q", cfg.OrderStore.StorageDriver())
	}
	if cfg.Assistant.ToolsPerTurn() != 2 {
		t.Errorf("ToolsPerTurn = %d", cfg.Assistant.ToolsPerTurn())
	}
	if cfg.Gateways.HTTP == nil || cfg.Gateways.HTTP.ListenAddr != ":8080" {
		t.Errorf("http gateway not parsed: %+v", cfg.Gateways.HTTP)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.OrderStore.Timeout() != 10*time.Second {
		t.Errorf("default timeout = %v", cfg.OrderStore.Timeout())
	}
	if !cfg.OrderStore.SeedEnabled() {
		t.Error("seeding should default to on")
	}
	if cfg.OrderStore.StoreListenAddr() != ":5001" {
		t.Errorf("listen addr = %q", cfg.OrderStore.StoreListenAddr())
	}
	if cfg.OrderStore.StorageDriver() != storage.DriverSQLite {
		t.Errorf("driver = %q", cfg.OrderStore.StorageDriver())
	}
	if cfg.Assistant.ToolsPerTurn() != 1 || cfg.Assistant.Iterations() != 5 {
		t.Errorf("assistant defaults: tools=%d iterations=%d", cfg.Assistant.ToolsPerTurn(), cfg.Assistant.Iterations())
	}
	if cfg.Assistant.SessionTTL() != time.Hour || cfg.Assistant.ReapSpec() != "@every 5m" {
		t.Errorf("session defaults: ttl=%v reap=%q", cfg.Assistant.SessionTTL(), cfg.Assistant.ReapSpec())
	}
	var ev *EventsConfig
	if ev.EventsTopic() != "orders.events" {
		t.Errorf("topic = %q", ev.EventsTopic())
	}
}

func TestLoadJSONWithEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ORDERDESK_STORE_URL", "http://store:9000")
	t.Setenv("ORDERDESK_KAFKA_BROKERS", "k1:9092, k2:9092")

	path := writeConfig(t, "orderdesk.json", `{"providers":{"openai":{"model":"gpt-4o-mini"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Default != "openai" || cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Errorf("provider = %+v", cfg.Providers)
	}
	if cfg.OrderStore.StoreBaseURL() != "http://store:9000" {
		t.Errorf("base url = %q", cfg.OrderStore.StoreBaseURL())
	}
	ev := cfg.OrderStore.Events
	if ev == nil || !ev.Enabled || len(ev.Brokers) != 2 || ev.Brokers[1] != "k2:9092" {
		t.Errorf("events = %+v", ev)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing api key", `{"providers":{"openai":{"model":"gpt-4o-mini"}}}`, "api_key"},
		{"unknown provider", `{"providers":{"default":"acme"}}`, "not supported"},
		{"bad driver", `{"providers":{"default":"ollama","ollama":{"model":"m"}},"order_store":{"storage":{"driver":"mongo"}}}`, "storage.driver"},
		{"postgres without dsn", `{"providers":{"default":"ollama","ollama":{"model":"m"}},"order_store":{"storage":{"driver":"postgres"}}}`, "dsn"},
		{"bad base url", `{"providers":{"default":"ollama","ollama":{"model":"m"}},"order_store":{"base_url":"store:5001"}}`, "base_url"},
		{"events without brokers", `{"providers":{"default":"ollama","ollama":{"model":"m"}},"order_store":{"events":{"enabled":true}}}`, "brokers"},
	}
	t.Setenv("OPENAI_API_KEY", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.json", tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadStoreSkipsProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := LoadStore(writeConfig(t, "store.yml", "order_store:\n  listen_addr: \":7000\"\n"))
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	if cfg.OrderStore.StoreListenAddr() != ":7000" {
		t.Errorf("listen addr = %q", cfg.OrderStore.StoreListenAddr())
	}
}
