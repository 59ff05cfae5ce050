package config

import (
	"errors"
	"testing"
)

func TestValidateAcceptsKnownEnvironments(t *testing.T) {
	for _, env := range []string{EnvDevelopment, EnvStaging, EnvProduction} {
		cfg := Config{Environment: env}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("environment %q: unexpected error %v", env, err)
		}
	}
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := Config{Environment: "qa"}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidEnvironment) {
		t.Fatalf("expected invalid environment, got %v", err)
	}
}

func TestValidateRejectsDevModeOutsideDevelopment(t *testing.T) {
	for _, env := range []string{EnvStaging, EnvProduction} {
		cfg := Config{Environment: env, DevMode: true}
		if err := cfg.Validate(); !errors.Is(err, ErrDevModeInLive) {
			t.Fatalf("environment %q: expected fail-closed error, got %v", env, err)
		}
	}
}

func TestValidateAllowsDevModeInDevelopment(t *testing.T) {
	cfg := Config{Environment: EnvDevelopment, DevMode: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdminEmailList(t *testing.T) {
	cfg := Config{AdminEmails: "ops@example.com, billing@example.com ,"}
	got := cfg.AdminEmailList()
	if len(got) != 2 || got[0] != "ops@example.com" || got[1] != "billing@example.com" {
		t.Fatalf("unexpected admin list: %v", got)
	}
}
