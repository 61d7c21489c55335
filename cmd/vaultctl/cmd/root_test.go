package cmd

import (
	"testing"

	"github.com/koofr/vault-core/internal/constants"
)

func TestNewRootCmdStructure(t *testing.T) {
	root := NewRootCmd()
	if root == nil {
		t.Fatal("NewRootCmd() returned nil")
	}
	if root.Use != "vaultctl" {
		t.Errorf("Use = %q, want %q", root.Use, "vaultctl")
	}

	subcommands := root.Commands()
	expected := []string{"upload", "download", "edit", "transfers"}
	found := make(map[string]bool, len(subcommands))
	for _, sub := range subcommands {
		found[sub.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("subcommand %q not found", name)
		}
	}
}

func TestNewRootCmdFlagDefaults(t *testing.T) {
	root := NewRootCmd()
	pf := root.PersistentFlags()

	tests := []struct {
		name string
		want string
	}{
		{"repo-id", "demo-repo"},
		{"root-path", "/"},
		{"mount", "memory"},
	}
	for _, tt := range tests {
		flag := pf.Lookup(tt.name)
		if flag == nil {
			t.Fatalf("--%s flag not found", tt.name)
		}
		if flag.DefValue != tt.want {
			t.Errorf("--%s default = %q, want %q", tt.name, flag.DefValue, tt.want)
		}
	}

	maxConcurrent := pf.Lookup("max-concurrent")
	if maxConcurrent == nil {
		t.Fatal("--max-concurrent flag not found")
	}
	if maxConcurrent.DefValue != "5" {
		t.Errorf("--max-concurrent default = %q, want %q", maxConcurrent.DefValue, "5")
	}
}

func TestValidateMaxConcurrent(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"below minimum", 0, true},
		{"negative", -1, true},
		{"above maximum", 11, true},
		{"minimum", 1, false},
		{"maximum", 10, false},
		{"default", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMaxConcurrent(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateMaxConcurrent(%d) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestConstantsBackRootDefaults(t *testing.T) {
	if constants.MinMaxConcurrent >= constants.MaxMaxConcurrent {
		t.Fatalf("MinMaxConcurrent (%d) must be below MaxMaxConcurrent (%d)",
			constants.MinMaxConcurrent, constants.MaxMaxConcurrent)
	}
	if constants.DefaultMaxConcurrent < constants.MinMaxConcurrent || constants.DefaultMaxConcurrent > constants.MaxMaxConcurrent {
		t.Errorf("DefaultMaxConcurrent %d outside [%d, %d]",
			constants.DefaultMaxConcurrent, constants.MinMaxConcurrent, constants.MaxMaxConcurrent)
	}
}
