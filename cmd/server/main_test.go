package main

import (
	"strings"
	"testing"

	"pesanaja/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"empty secret", config.Config{UnitPrefix: "01"}, "AUTH_SECRET"},
		{"short secret", config.Config{AuthSecret: "too-short", UnitPrefix: "01"}, "AUTH_SECRET"},
		{"empty prefix", config.Config{AuthSecret: strings.Repeat("x", 32)}, "UNIT_PREFIX"},
	}

	for _, tc := range cases {
		err := validateSecurityConfig(tc.cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %s in error, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	cfg := config.Config{
		AuthSecret: strings.Repeat("x", 32),
		UnitPrefix: "01",
	}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
