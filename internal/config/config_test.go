package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")
	v.Set("auth.issuer", "https://idp.example.com")
	v.Set("auth.jwks_url", "https://idp.example.com/jwks")
	v.Set("auth.audience", "drift-mobile")
	v.Set("listings.base_url", "https://listings.example.com/api")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected load failure: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected default address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 60*time.Minute {
		t.Fatalf("unexpected default token ttl %v", cfg.TokenTTL)
	}
	if cfg.CacheTTL != 60*time.Minute {
		t.Fatalf("unexpected default cache ttl %v", cfg.CacheTTL)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.RetryDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %d %v", cfg.RetryMaxAttempts, cfg.RetryDelay)
	}
	if cfg.ListingsLocation != "India" {
		t.Fatalf("unexpected default location %q", cfg.ListingsLocation)
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	cases := []string{
		"auth.signing_secret",
		"auth.issuer",
		"auth.jwks_url",
		"auth.audience",
		"listings.base_url",
	}
	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			v := NewViper()
			for _, key := range cases {
				if key != missing {
					v.Set(key, "value")
				}
			}
			_, err := Load(v)
			if err == nil {
				t.Fatalf("expected failure for missing %s", missing)
			}
			if !strings.Contains(err.Error(), missing) {
				t.Fatalf("expected error to name %s, got %v", missing, err)
			}
		})
	}
}
