package migrate

import (
	"os"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("Run empty DSN err = %v", err)
	}
	if _, _, err := Version(""); err == nil {
		t.Fatal("Version with empty DSN should return error")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, dir := range []string{"", "sideways", "UP", "Down"} {
		err := Run("postgres://localhost/test", dir)
		if err == nil || !strings.Contains(err.Error(), "direction must be up or down") {
			t.Errorf("Run(%q) err = %v, want direction error", dir, err)
		}
	}
}

func TestRun_UpDownAgainstLiveDatabase(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := Run(dsn, "up"); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v == 0 || dirty {
		t.Errorf("Version = %d dirty=%v", v, dirty)
	}
	if err := Run(dsn, "up"); err != nil {
		t.Errorf("second Run up should be a no-op, got %v", err)
	}
	if err := Run(dsn, "down"); err != nil {
		t.Fatalf("Run down: %v", err)
	}
}
