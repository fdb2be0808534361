package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.Server.ListenAddr == "" {
		t.Fatal("expected a default listen address")
	}
	if c.Logging.Level == "" {
		t.Fatal("expected a default log level")
	}
	if c.Tracing.Enabled {
		t.Fatal("expected tracing disabled by default with no jaeger endpoint set")
	}
}

func TestLoadRespectsEnv(t *testing.T) {
	t.Setenv("LOOMKV_LISTEN_ADDR", ":9999")
	t.Setenv("LOOMKV_JAEGER_ENDPOINT", "http://localhost:14268/api/traces")

	c := Load()
	if c.Server.ListenAddr != ":9999" {
		t.Fatalf("expected :9999, got %s", c.Server.ListenAddr)
	}
	if !c.Tracing.Enabled {
		t.Fatal("expected tracing enabled when jaeger endpoint is set")
	}
	if c.Tracing.JaegerEndpoint != "http://localhost:14268/api/traces" {
		t.Fatalf("unexpected jaeger endpoint: %s", c.Tracing.JaegerEndpoint)
	}
}
