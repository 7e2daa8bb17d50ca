package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file: %v", err)
	}
}

func TestLoadFileEnvironmentWins(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# gateway settings\n" +
		"VB_FROM_FILE=loaded\n" +
		"VB_QUOTED=\"hello world\"\n" +
		"export VB_EXPORTED=ok\n" +
		"VB_EXISTING=from_file\n" +
		"not-a-pair\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("VB_EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	for key, want := range map[string]string{
		"VB_FROM_FILE": "loaded",
		"VB_QUOTED":    "hello world",
		"VB_EXPORTED":  "ok",
		"VB_EXISTING":  "already_set",
	} {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line       string
		key, value string
		ok         bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = value ", "KEY", "value", true},
		{"export KEY=value", "KEY", "value", true},
		{`KEY="quoted"`, "KEY", "quoted", true},
		{"KEY='single'", "KEY", "single", true},
		{`KEY="mismatched'`, "KEY", `"mismatched'`, true},
		{"KEY=", "KEY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=value", "", "", false},
		{"no equals sign", "", "", false},
	}
	for _, tc := range tests {
		key, value, ok := parseLine(tc.line)
		if key != tc.key || value != tc.value || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.line, key, value, ok, tc.key, tc.value, tc.ok)
		}
	}
}
