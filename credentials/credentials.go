// Package credentials implements the greenhouse controller's
// collab.CredentialProvider and console password source. It generalizes
// the teacher's embedded-file-with-deprecated-accessor pattern:
// instead of secrets baked into the binary via go:embed, each value is
// read from an environment variable at process start, trimmed the same
// way the teacher trims its embedded file contents.
package credentials

import (
	"os"
	"strings"

	"github.com/openenterprise/greenhouse/internal/collab"
)

const (
	envAPIKey         = "GREENHOUSE_API_KEY"
	envPhone          = "GREENHOUSE_ALERT_PHONE"
	envConsolePassword = "GREENHOUSE_CONSOLE_PASSWORD"
)

// Provider reads credentials from the process environment. It
// implements internal/collab.CredentialProvider.
type Provider struct{}

var _ collab.CredentialProvider = Provider{}

// GetAPIKey returns the alert-service API key, or ok=false when unset.
func (Provider) GetAPIKey() (key string, ok bool) {
	return lookupTrimmed(envAPIKey)
}

// GetPhone returns the alert-destination phone number, or ok=false when
// unset.
func (Provider) GetPhone() (phone string, ok bool) {
	return lookupTrimmed(envPhone)
}

// ConsolePassword returns the debug console password, or ok=false when
// unset (internal/console then refuses every login).
func ConsolePassword() (string, bool) {
	return lookupTrimmed(envConsolePassword)
}

func lookupTrimmed(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", false
	}
	return v, true
}
