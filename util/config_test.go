package util

import (
	"os"
	"testing"
)

func TestReadConfDefaults(t *testing.T) {
	conf, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if conf.Conf.HttpPort == 0 {
		t.Error("Expected embedded default httpPort to be set")
	}
	if conf.Conf.TimelineMax != 1000 {
		t.Errorf("Expected default timelineMax 1000, got %d", conf.Conf.TimelineMax)
	}
	if conf.Conf.PreviewConcurrency != 3 {
		t.Errorf("Expected default previewConcurrency 3, got %d", conf.Conf.PreviewConcurrency)
	}
	if conf.Conf.PreviewMaxLinks != 3 {
		t.Errorf("Expected default previewMaxLinks 3, got %d", conf.Conf.PreviewMaxLinks)
	}
}

func TestReadConfEnvOverrides(t *testing.T) {
	t.Setenv("FEDIPOINT_HOST", "10.0.0.5")
	t.Setenv("FEDIPOINT_HTTPPORT", "9999")
	t.Setenv("FEDIPOINT_MONGODB", "fedipoint_test")
	t.Setenv("FEDIPOINT_TIMELINEMAX", "250")

	conf, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if conf.Conf.Host != "10.0.0.5" {
		t.Errorf("Expected host '10.0.0.5', got '%s'", conf.Conf.Host)
	}
	if conf.Conf.HttpPort != 9999 {
		t.Errorf("Expected httpPort 9999, got %d", conf.Conf.HttpPort)
	}
	if conf.Conf.MongoDB != "fedipoint_test" {
		t.Errorf("Expected mongoDb 'fedipoint_test', got '%s'", conf.Conf.MongoDB)
	}
	if conf.Conf.TimelineMax != 250 {
		t.Errorf("Expected timelineMax 250, got %d", conf.Conf.TimelineMax)
	}
}

func TestReadConfInvalidEnvInt(t *testing.T) {
	t.Setenv("FEDIPOINT_HTTPPORT", "not-a-number")

	conf, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// Invalid numeric overrides are ignored, the default survives.
	if conf.Conf.HttpPort != 8077 {
		t.Errorf("Expected default httpPort 8077, got %d", conf.Conf.HttpPort)
	}
}

func TestEnvOverridesAreScoped(t *testing.T) {
	if os.Getenv("FEDIPOINT_HOST") != "" {
		t.Skip("FEDIPOINT_HOST set in environment")
	}
	conf, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}
	if conf.Conf.Host != "0.0.0.0" {
		t.Errorf("Expected default host, got '%s'", conf.Conf.Host)
	}
}
