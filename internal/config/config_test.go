package config

import "testing"

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CB_TEST_INT", "42")
	if got := getEnvInt("CB_TEST_INT", 7); got != 42 {
		t.Fatalf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("CB_TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("getEnvInt default = %d, want 7", got)
	}

	t.Setenv("CB_TEST_BOOL", "false")
	if getEnvBool("CB_TEST_BOOL", true) {
		t.Fatal("getEnvBool should honor an explicit false")
	}
	t.Setenv("CB_TEST_BOOL_BAD", "yep")
	if !getEnvBool("CB_TEST_BOOL_BAD", true) {
		t.Fatal("getEnvBool should fall back on unparseable values")
	}
}

func TestOriginAllowed(t *testing.T) {
	c := &Config{AllowedOrigins: []string{"https://app.example.com"}}

	if !c.OriginAllowed("") {
		t.Fatal("empty origin (firmware client) must be allowed")
	}
	if !c.OriginAllowed("https://app.example.com") {
		t.Fatal("listed origin rejected")
	}
	if c.OriginAllowed("https://evil.example.com") {
		t.Fatal("unlisted origin accepted")
	}

	wildcard := &Config{AllowedOrigins: []string{"*"}}
	if !wildcard.OriginAllowed("https://anything.example.com") {
		t.Fatal("wildcard should allow any origin")
	}
}

func TestValidateRequiresCoreSettings(t *testing.T) {
	c := &Config{JWTSecret: "s"}
	if err := c.Validate(); err == nil {
		t.Fatal("missing DATABASE_URL should fail validation")
	}

	c = &Config{DatabaseURL: "postgres://localhost/care"}
	if err := c.Validate(); err == nil {
		t.Fatal("missing JWT_SECRET should fail validation")
	}

	c = &Config{DatabaseURL: "postgres://localhost/care", JWTSecret: "s"}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
