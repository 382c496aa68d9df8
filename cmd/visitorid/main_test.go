package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/visitorid/pkg/config"
)

func TestDomainCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.PathEnvVar, "")

	tests := []struct {
		domain string
		want   []string
	}{
		{"gmial.com", []string{"personal:      true", "organization:  \n"}},
		{"@Google.com", []string{"domain:        google.com", "organization:  Google", "notable:       true"}},
		{"cs.stanford.edu", []string{"institutional: true", "personal:      false"}},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"domain", tt.domain})
			if err := root.Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg   config.LogConfig
		debug bool
		want  slog.Level
	}{
		{config.LogConfig{Level: "info", Format: "text"}, false, slog.LevelInfo},
		{config.LogConfig{Level: "warn", Format: "json"}, false, slog.LevelWarn},
		{config.LogConfig{Level: "error", Format: "text"}, true, slog.LevelDebug},
	}
	for _, tt := range tests {
		l := newLogger(tt.cfg, tt.debug)
		if !l.Enabled(t.Context(), tt.want) {
			t.Errorf("newLogger(%+v, %t) should enable %v", tt.cfg, tt.debug, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(t.Context(), tt.want-4) {
			t.Errorf("newLogger(%+v, %t) enables below %v", tt.cfg, tt.debug, tt.want)
		}
	}
}
