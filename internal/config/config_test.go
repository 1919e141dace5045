package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "AMQP_URL",
		"UNIT_PREFIX", "OCCUPANCY_TTL_SECONDS", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.UnitPrefix != "01" {
		t.Fatalf("expected default unit prefix 01, got %s", cfg.UnitPrefix)
	}
	if cfg.OccupancyTTLSeconds != 5 {
		t.Fatalf("expected default occupancy ttl 5, got %d", cfg.OccupancyTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "   ")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("blank AUTH_SECRET must load as empty, got %q", cfg.AuthSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("UNIT_PREFIX", "7")
	t.Setenv("OCCUPANCY_TTL_SECONDS", "30")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	if cfg.Port != "9090" || cfg.UnitPrefix != "7" || cfg.OccupancyTTLSeconds != 30 || cfg.RedisDB != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsNonsenseTTLs(t *testing.T) {
	t.Setenv("OCCUPANCY_TTL_SECONDS", "-4")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "abc")

	cfg := Load()
	if cfg.OccupancyTTLSeconds != 5 {
		t.Fatalf("negative ttl must fall back to 5, got %d", cfg.OccupancyTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("unparsable token ttl must fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
