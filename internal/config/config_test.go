package config

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLoadAppliesDefaultsAndEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")

	cfg := Load()

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.JWT.Secret != "s3cret" {
		t.Errorf("expected secret from env, got %q", cfg.JWT.Secret)
	}
	if cfg.JWT.AccessTTL() != 15*time.Minute {
		t.Errorf("expected default access ttl of 15m, got %s", cfg.JWT.AccessTTL())
	}
	if cfg.JWT.RefreshTTL() != 7*24*time.Hour {
		t.Errorf("expected default refresh ttl of 7d, got %s", cfg.JWT.RefreshTTL())
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.Kafka.Enabled() {
		t.Error("kafka should be enabled when brokers are set")
	}
	if cfg.Outbox.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", cfg.Outbox.PollInterval)
	}
	if cfg.Database.TxMaxRetries != 3 {
		t.Errorf("expected 3 tx retries, got %d", cfg.Database.TxMaxRetries)
	}
}

func TestDSNEscapesCredentials(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		User:     "shop",
		Password: "p@ss/word",
		Database: "shopfront",
		Schema:   "public",
	}

	dsn := d.DSN()
	if !strings.HasPrefix(dsn, "postgres://shop:p%40ss%2Fword@db:5432/shopfront") {
		t.Errorf("unexpected dsn %s", dsn)
	}
	if !strings.Contains(dsn, "search_path=public") {
		t.Errorf("dsn should carry the schema: %s", dsn)
	}
}

func TestProperty_SplitCSVDropsBlanks(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("split values are trimmed and non-empty", prop.ForAll(
		func(parts []string) bool {
			for _, p := range splitCSV(strings.Join(parts, " , ")) {
				if p == "" || p != strings.TrimSpace(p) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
