package config

import (
	"strings"
	"testing"
	"time"
)

type sample struct {
	Addr    string        `env:"PLAYGATE_TEST_ADDR" envDefault:":8080"`
	Timeout time.Duration `env:"PLAYGATE_TEST_TIMEOUT" envDefault:"2s"`
}

func TestParseEnv_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PLAYGATE_TEST_TIMEOUT", "5s")

	var s sample
	if err := ParseEnv(&s); err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if s.Addr != ":8080" || s.Timeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", s)
	}
}

func TestParseEnv_WrapsErrors(t *testing.T) {
	t.Setenv("PLAYGATE_TEST_TIMEOUT", "soon")

	var s sample
	err := ParseEnv(&s)
	if err == nil || !strings.HasPrefix(err.Error(), "parse env:") {
		t.Fatalf("expected wrapped parse error, got %v", err)
	}
}
