// Package alert implements the remote alert/report HTTP client from
// spec.md §4.7 (C8): JSON POST of alerts and hourly reports, and
// health-debounced sensor up/down monitoring. It is grounded on the
// teacher's mqtt.go network-call lifecycle (explicit connect/publish/
// disconnect phases guarded by flags, each step logged and retried),
// generalized from MQTT publish to an HTTP POST, using net/http directly
// as the teacher itself does for its OTA/update checks rather than
// pulling in a REST client library.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/heartbeat"
)

// Defaults per spec.md §4.7/§5/glossary.
const (
	DefaultWebTimeout       = 5 * time.Second
	DefaultCleanupAttempts  = 3
	DefaultSensDownCt       = 3
	DefaultSensUpCt         = 3
)

// HealthStatus is the monitor_sensor up/down state, per spec.md §4.7.
type HealthStatus int

const (
	StatusUp HealthStatus = iota
	StatusDown
)

// ErrNotReady is returned when the client refuses to run because the
// network is not in station mode or credentials are missing, per
// spec.md §4.7's final bullet.
var ErrNotReady = errors.New("alert: network not in station mode or credentials missing")

// Metrics receives send counts for the ambient Prometheus surface.
type Metrics interface {
	AlertSent(kind string, ok bool)
}

// Client is the alert/report HTTP client.
type Client struct {
	endpoint string
	httpc    *http.Client
	creds    collab.CredentialProvider
	network  collab.Network
	hb       *heartbeat.Supervisor
	restart  Restarter
	log      *slog.Logger
	metrics  Metrics

	cleanupAttempts int

	mu       sync.Mutex
	monitors map[string]*sensorMonitor
}

// Restarter is C13's save-and-restart operation, invoked when alert
// client cleanup is exhausted, per spec.md §4.7.
type Restarter interface {
	SaveAndRestart(reason string)
}

// New returns a Client posting to endpoint.
func New(endpoint string, creds collab.CredentialProvider, network collab.Network, hb *heartbeat.Supervisor, restart Restarter, logger *slog.Logger, metrics Metrics) *Client {
	return &Client{
		endpoint:        endpoint,
		httpc:           &http.Client{Timeout: DefaultWebTimeout},
		creds:           creds,
		network:         network,
		hb:              hb,
		restart:         restart,
		log:             logger,
		metrics:         metrics,
		cleanupAttempts: DefaultCleanupAttempts,
		monitors:        make(map[string]*sensorMonitor),
	}
}

type alertPayload struct {
	APIKey string `json:"APIkey"`
	Phone  string `json:"phone"`
	Msg    string `json:"msg"`
}

type reportPayload struct {
	APIKey string          `json:"APIkey"`
	Phone  string          `json:"phone"`
	Report json.RawMessage `json:"report"`
}

// ready checks the station-mode + credentials precondition, per
// spec.md §4.7's final bullet.
func (c *Client) ready() (apiKey, phone string, err error) {
	if c.network != nil && !(c.network.Mode() == collab.ModeStation && c.network.IsActive()) {
		return "", "", ErrNotReady
	}
	apiKey, okKey := c.creds.GetAPIKey()
	phone, okPhone := c.creds.GetPhone()
	if !okKey || !okPhone {
		return "", "", ErrNotReady
	}
	return apiKey, phone, nil
}

// SendAlert builds {"APIkey","phone","msg"} and POSTs it, per spec.md
// §4.7's send_alert operation.
func (c *Client) SendAlert(ctx context.Context, message, callerTag string) error {
	apiKey, phone, err := c.ready()
	if err != nil {
		return err
	}
	body, err := json.Marshal(alertPayload{APIKey: apiKey, Phone: phone, Msg: message})
	if err != nil {
		return err
	}
	ok := c.post(ctx, body)
	if c.metrics != nil {
		c.metrics.AlertSent("alert", ok)
	}
	if !ok {
		return fmt.Errorf("alert: send_alert failed for %s", callerTag)
	}
	return nil
}

// SendReport wraps reportJSON as {"APIkey","phone","report":<obj>} and
// POSTs it, per spec.md §4.7's send_report operation.
func (c *Client) SendReport(ctx context.Context, reportJSON []byte) error {
	apiKey, phone, err := c.ready()
	if err != nil {
		return err
	}
	body, err := json.Marshal(reportPayload{APIKey: apiKey, Phone: phone, Report: reportJSON})
	if err != nil {
		return err
	}
	ok := c.post(ctx, body)
	if c.metrics != nil {
		c.metrics.AlertSent("report", ok)
	}
	if !ok {
		return errors.New("alert: send_report failed")
	}
	return nil
}

// post drives the init->open->write->read->cleanup lifecycle from
// spec.md §4.7, suspending all heartbeats for the duration of the
// blocking call so the watchdog tolerates network latency.
func (c *Client) post(ctx context.Context, body []byte) bool {
	if c.hb != nil {
		c.hb.SuspendAll("alert-client-post")
		defer c.hb.ReleaseAll()
	}

	var lastErr error
	for attempt := 0; attempt < c.cleanupAttempts; attempt++ {
		ok, err := c.doPost(ctx, body)
		if ok {
			return true
		}
		lastErr = err
		if c.log != nil {
			c.log.Warn("alert:post-retry", slog.Int("attempt", attempt+1), slog.Any("err", lastErr))
		}
	}

	if c.log != nil {
		c.log.Error("alert:post-cleanup-exhausted", slog.Any("err", lastErr))
	}
	if c.restart != nil {
		c.restart.SaveAndRestart("alert client cleanup exhausted")
	}
	return false
}

func (c *Client) doPost(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return false, err
	}
	// Per spec.md §9's open question: treat anything other than exact
	// "OK" as failure, including missing bodies.
	if string(respBody) != "OK" {
		return false, fmt.Errorf("alert: endpoint returned %q", string(respBody))
	}
	return true, nil
}
