package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kessel-b2b/aigate/internal/config"
	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
)

const seedYAML = `datasources:
  - table_name: themes
    display_name: Themes
    access_level: read_write
    is_enabled: true
    excluded_columns: [secret]
  - table_name: invoices
    access_level: read
    is_enabled: false
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(seed, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Store.SeedFile = seed
	cfg.Audit.Output = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	return cfg
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "tools", "route", "exec", "migrate", "hash-key", "version"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestServeCmd_DevFlagDefault(t *testing.T) {
	dev, err := serveCmd.Flags().GetBool("dev")
	if err != nil {
		t.Fatalf("failed to get dev flag: %v", err)
	}
	if dev {
		t.Error("dev default = true, want false")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashKeyCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash-key", "my-secret"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("hash-key: %v", err)
	}

	hash := strings.TrimSpace(out.String())
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want argon2id PHC string", hash)
	}
	ok, err := auth.VerifyKey("my-secret", hash)
	if err != nil || !ok {
		t.Errorf("VerifyKey(my-secret) = %v, %v; want true", ok, err)
	}
	if ok, _ := auth.VerifyKey("other", hash); ok {
		t.Error("VerifyKey(other) = true, want false")
	}
}

func TestRouteCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"route", "zeige", "alle", "Themes"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("route: %v", err)
	}

	var got router.Decision
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	want := router.NewDefault().Decide([]router.Message{{Role: router.RoleUser, Content: "zeige alle Themes"}})
	if got.Reason != want.Reason || got.Tier != want.Tier || got.NeedsTools != want.NeedsTools {
		t.Errorf("route = %+v, want reason %q tier %q", got, want.Reason, want.Tier)
	}
}

func TestListTools(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := listTools(t.Context(), cfg, &out, false); err != nil {
		t.Fatalf("listTools: %v", err)
	}
	text := out.String()
	for _, name := range []string{"insert_themes", "query_themes", "update_themes"} {
		if !strings.Contains(text, name) {
			t.Errorf("output missing %s:\n%s", name, text)
		}
	}
	if strings.Contains(text, "delete_themes") || strings.Contains(text, "invoices") {
		t.Errorf("output lists tools beyond the policy:\n%s", text)
	}

	out.Reset()
	if err := listTools(t.Context(), cfg, &out, true); err != nil {
		t.Fatalf("listTools(json): %v", err)
	}
	var defs []toolschema.ToolDefinition
	if err := json.Unmarshal(out.Bytes(), &defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defs) != 3 || defs[0].Name != "insert_themes" {
		t.Errorf("defs = %d (first %q), want 3 starting with insert_themes", len(defs), defs[0].Name)
	}
	if defs[1].Parameters == nil {
		t.Error("query_themes has no parameter schema")
	}
}

func TestExecTool(t *testing.T) {
	cfg := testConfig(t)
	tc := toolcall.Context{UserID: "tester", SessionID: "s1", RequestID: "r1"}

	tests := []struct {
		name    string
		tool    string
		args    string
		dryRun  bool
		wantOK  bool
		wantOut string
	}{
		{name: "insert", tool: "insert_themes", args: `{"data":{"name":"Dark"}}`, wantOK: true, wantOut: `"Dark"`},
		{name: "dry run insert", tool: "insert_themes", args: `{"data":{"name":"Light"}}`, dryRun: true, wantOK: true, wantOut: `"dryRunQuery"`},
		{name: "query", tool: "query_themes", args: `{}`, wantOK: true, wantOut: `"success": true`},
		{name: "delete not granted", tool: "delete_themes", args: `{"filters":{"id":"x"}}`, wantOut: `"success": false`},
		{name: "bad json", tool: "query_themes", args: `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			call := tc
			call.DryRun = tt.dryRun
			ok, err := execTool(t.Context(), cfg, &out, tt.tool, tt.args, call)
			if tt.name == "bad json" {
				if err == nil {
					t.Fatal("expected error for malformed arguments")
				}
				return
			}
			if err != nil {
				t.Fatalf("execTool: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v; output:\n%s", ok, tt.wantOK, out.String())
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output missing %s:\n%s", tt.wantOut, out.String())
			}
		})
	}
}
