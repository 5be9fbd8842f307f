package testing

import (
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teachhelper-console/internal/platform/config"
	"teachhelper-console/internal/platform/logging"
)

// TokenSecret signs tokens produced by IssueToken. Clients never verify
// signatures, so any value works.
const TokenSecret = "test-secret"

func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Storage.File.Path = t.TempDir() + "/storage.json"
	cfg.WS.ReconnectInterval = 20 * time.Millisecond
	cfg.WS.HandshakeTimeout = time.Second
	cfg.API.Timeout = 5 * time.Second
	cfg.Log.Level = "debug"
	return cfg
}

// SetupTestLogger returns a logger whose console output is discarded unless
// verbose testing is on, in which case it goes to the test log.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = testWriter{t}
	}
	logger, err := logging.New(logging.Config{
		Level:   "debug",
		Console: out,
		NoColor: true,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// IssueToken signs an HS256 token expiring at exp. A zero exp omits the claim.
func IssueToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TokenSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}
