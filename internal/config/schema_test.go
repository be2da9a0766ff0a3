package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheck_AcceptsValidFile(t *testing.T) {
	data := []byte(`
trigger:
  port: /dev/ttyACM0
  baud: 115200
  tokens: [motion, pir]
capture:
  frames: 5
policy:
  threshold: 0.35
  authorized_identities: [alice, bob]
alerts:
  telegram:
    chat_id: -100123
  mqtt:
    qos: 2
store:
  mirror: postgres
logging:
  format: json
`)
	errs, err := Check(data)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("Check() = %v, want no errors", ValidationErrors(errs))
	}
}

func TestCheck_EmptyFile(t *testing.T) {
	errs, err := Check(nil)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("Check(empty) = %v", ValidationErrors(errs))
	}
}

func TestCheck_RejectsUnknownKey(t *testing.T) {
	errs, err := Check([]byte("trigger:\n  bogus_key: 1\n"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("Check() accepted an unknown key")
	}
	if !strings.Contains(ValidationErrors(errs).Error(), "bogus_key") {
		t.Errorf("errors do not name the key: %v", ValidationErrors(errs))
	}
}

func TestCheck_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative baud", "trigger:\n  baud: -1\n", "baud"},
		{"zero frames", "capture:\n  frames: 0\n", "frames"},
		{"threshold type", "policy:\n  threshold: high\n", "threshold"},
		{"mirror enum", "store:\n  mirror: redis\n", "mirror"},
		{"qos enum", "alerts:\n  mqtt:\n    qos: 5\n", "qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := Check([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if len(errs) == 0 {
				t.Fatalf("Check(%q) found no errors", tt.yaml)
			}
			if !strings.Contains(ValidationErrors(errs).Error(), tt.want) {
				t.Errorf("errors do not mention %q: %v", tt.want, ValidationErrors(errs))
			}
		})
	}
}

func TestCheck_MalformedYAML(t *testing.T) {
	errs, err := Check([]byte("trigger: [unterminated"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(errs) != 1 || errs[0].Field != "yaml" {
		t.Errorf("Check(malformed) = %v", errs)
	}
}

func TestCheckFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motionguard.yaml")
	if err := os.WriteFile(path, []byte("api:\n  addr: \":8080\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	errs, err := CheckFile(path)
	if err != nil || len(errs) != 0 {
		t.Fatalf("CheckFile() = %v, %v", errs, err)
	}

	if _, err := CheckFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("CheckFile() on a missing file should fail")
	}
}
