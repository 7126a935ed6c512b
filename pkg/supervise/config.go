package supervise

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/retry"
	"github.com/pkg/errors"
)

// Config is resolved once (config file, env, flags) before the supervisor is
// constructed and immutable afterwards.
type Config struct {
	RepoRoot    string
	BackendRoot string

	BrokerURL string // redis-style URL or plain host:port
	APIPort   int
	Workers   int

	// SettleDelay is how long a freshly spawned stage gets to stabilize
	// before the next stage starts (the broker needs to accept connections
	// before workers enumerate queues). A fixed delay rather than an
	// observed condition; the broker additionally gates on a TCP probe.
	SettleDelay time.Duration

	// GracePeriod is how long a process gets to exit after SIGTERM before
	// SIGKILL.
	GracePeriod time.Duration

	// BrokerDetect is the short probe that decides whether an external
	// broker is already running. BrokerStartup bounds the wait for a
	// self-spawned broker to accept connections. APIReadiness bounds the
	// readiness gate after the full chain is up.
	BrokerDetect  retry.Policy
	BrokerStartup retry.Policy
	APIReadiness  retry.Policy

	// Launch commands, relative to BackendRoot. Overridable so tests and
	// unusual installs can substitute their own binaries.
	BrokerCommand []string
	WorkerCommand []string
	APICommand    []string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.BrokerDetect.MaxAttempts <= 0 {
		c.BrokerDetect = retry.Policy{MaxAttempts: 1, PerAttemptTimeout: 300 * time.Millisecond}
	}
	if c.BrokerStartup.MaxAttempts <= 0 {
		c.BrokerStartup = retry.Policy{MaxAttempts: 40, Interval: 250 * time.Millisecond, PerAttemptTimeout: 300 * time.Millisecond}
	}
	if c.APIReadiness.MaxAttempts <= 0 {
		c.APIReadiness = retry.Policy{MaxAttempts: 60, Interval: 500 * time.Millisecond, PerAttemptTimeout: time.Second}
	}
	return c
}

func (c Config) validate() error {
	if c.RepoRoot == "" {
		return errors.New("missing RepoRoot")
	}
	if c.BrokerURL == "" {
		return errors.New("missing BrokerURL")
	}
	if c.APIPort <= 0 {
		return errors.New("missing APIPort")
	}
	if _, err := c.brokerAddress(); err != nil {
		return err
	}
	return nil
}

// brokerAddress extracts host:port from BrokerURL for TCP liveness probes.
func (c Config) brokerAddress() (string, error) {
	raw := c.BrokerURL
	if !strings.Contains(raw, "//") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "parse broker url %q", raw)
	}
	if u.Host == "" {
		return "", errors.Errorf("broker url %q has no host", raw)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":6379"
	}
	return host, nil
}

// ReadinessURL is the API server's liveness endpoint; any 2xx means ready.
func (c Config) ReadinessURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", c.APIPort)
}
