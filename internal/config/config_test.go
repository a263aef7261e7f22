package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "sign-engine" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "sign-engine")
	}
	if cfg.OTPMaxAttempts != 5 {
		t.Errorf("OTPMaxAttempts = %d, want 5", cfg.OTPMaxAttempts)
	}
	if cfg.OTPMaxIssues != 10 {
		t.Errorf("OTPMaxIssues = %d, want 10", cfg.OTPMaxIssues)
	}
	if cfg.OTPBcryptCost != 10 {
		t.Errorf("OTPBcryptCost = %d, want 10", cfg.OTPBcryptCost)
	}
	if cfg.OTPTTL() != 10*time.Minute {
		t.Errorf("OTPTTL = %v, want 10m", cfg.OTPTTL())
	}
	if cfg.OTPCooldown() != 60*time.Second {
		t.Errorf("OTPCooldown = %v, want 60s", cfg.OTPCooldown())
	}
	if cfg.RequestDefaultTTL() != 14*24*time.Hour {
		t.Errorf("RequestDefaultTTL = %v, want 336h", cfg.RequestDefaultTTL())
	}
	if cfg.LifecycleKafkaTopic != "signature-lifecycle" {
		t.Errorf("LifecycleKafkaTopic = %q, want default", cfg.LifecycleKafkaTopic)
	}
	if cfg.DevOTPEnabled {
		t.Error("DevOTPEnabled should default to false")
	}
	if cfg.PublicRatePerMinute != 60 {
		t.Errorf("PublicRatePerMinute = %d, want 60", cfg.PublicRatePerMinute)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("OTP_MAX_ATTEMPTS", "3")
	t.Setenv("OTP_COOLDOWN", "30s")
	t.Setenv("OTP_BCRYPT_COST", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":7070")
	}
	if cfg.OTPMaxAttempts != 3 {
		t.Errorf("OTPMaxAttempts = %d, want 3", cfg.OTPMaxAttempts)
	}
	if cfg.OTPCooldown() != 30*time.Second {
		t.Errorf("OTPCooldown = %v, want 30s", cfg.OTPCooldown())
	}
	if cfg.OTPBcryptCost != 4 {
		t.Errorf("OTPBcryptCost = %d, want 4", cfg.OTPBcryptCost)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"dev otp in production", map[string]string{
			"APP_ENV": "production", "DEV_OTP_ENABLED": "true",
			"DATABASE_URL": "postgres://x", "JWT_PRIVATE_KEY": "k", "JWT_PUBLIC_KEY": "k",
		}},
		{"production without database", map[string]string{
			"APP_ENV": "production", "JWT_PRIVATE_KEY": "k", "JWT_PUBLIC_KEY": "k",
		}},
		{"production without keys", map[string]string{
			"APP_ENV": "production", "DATABASE_URL": "postgres://x",
		}},
		{"zero attempts", map[string]string{"OTP_MAX_ATTEMPTS": "0"}},
		{"zero issues", map[string]string{"OTP_MAX_ISSUES": "0"}},
		{"bcrypt cost too low", map[string]string{"OTP_BCRYPT_COST": "3"}},
		{"bcrypt cost too high", map[string]string{"OTP_BCRYPT_COST": "32"}},
		{"negative rate", map[string]string{"PUBLIC_RATE_PER_MINUTE": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load should return error")
			}
		})
	}
}

func TestLoad_ProductionValid(t *testing.T) {
	os.Clearenv()
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/sign")
	t.Setenv("JWT_PRIVATE_KEY", "/keys/private.pem")
	t.Setenv("JWT_PUBLIC_KEY", "/keys/public.pem")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{
		OTPTTLRaw:               "nope",
		OTPCooldownRaw:          "-5s",
		ViewerSessionTTLRaw:     "",
		RequestDefaultTTLRaw:    "abc",
		MailSendTimeoutRaw:      "0s",
		DocumentFetchTimeoutRaw: "x",
	}
	if got := cfg.OTPTTL(); got != 10*time.Minute {
		t.Errorf("OTPTTL = %v", got)
	}
	if got := cfg.OTPCooldown(); got != 60*time.Second {
		t.Errorf("OTPCooldown = %v", got)
	}
	if got := cfg.ViewerSessionTTL(); got != 30*time.Minute {
		t.Errorf("ViewerSessionTTL = %v", got)
	}
	if got := cfg.RequestDefaultTTL(); got != 14*24*time.Hour {
		t.Errorf("RequestDefaultTTL = %v", got)
	}
	if got := cfg.MailSendTimeout(); got != 10*time.Second {
		t.Errorf("MailSendTimeout = %v", got)
	}
	if got := cfg.DocumentFetchTimeout(); got != 15*time.Second {
		t.Errorf("DocumentFetchTimeout = %v", got)
	}
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"0", 0},
		{"0s", 0},
		{"1m", time.Minute},
		{"", 5 * time.Minute},
		{"garbage", 5 * time.Minute},
	}
	for _, tt := range tests {
		cfg := &Config{SweepIntervalRaw: tt.raw}
		if got := cfg.SweepInterval(); got != tt.want {
			t.Errorf("SweepInterval(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil list")
	}
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
}
