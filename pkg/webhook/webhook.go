// Package webhook delivers vault events to configured HTTP endpoints.
// Delivery is asynchronous and best-effort: a slow or broken endpoint
// never blocks the mutation that produced the event.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/model"
)

// HookConfig is a single webhook endpoint.
type HookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Secret  string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events  []string `yaml:"events" json:"events"` // event type names, or "*"
	Enabled bool     `yaml:"enabled" json:"enabled"`
}

// Config configures webhook delivery. The retry delay is in whole
// milliseconds so the YAML stays plain integers.
type Config struct {
	Enabled      bool         `yaml:"enabled" json:"enabled"`
	Hooks        []HookConfig `yaml:"hooks" json:"hooks"`
	MaxRetries   int          `yaml:"max_retries" json:"max_retries"`
	RetryDelayMS int          `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	QueueSize    int          `yaml:"queue_size" json:"queue_size"`
}

func (c *Config) retryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// DefaultConfig returns the default webhook configuration: delivery is on,
// but with no hooks configured nothing is ever sent.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		MaxRetries:   3,
		RetryDelayMS: 5000,
		QueueSize:    100,
	}
}

// Client sends vault events to configured endpoints. It satisfies the
// vault's Notifier interface.
type Client struct {
	config *Config
	http   *http.Client
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *logging.Logger
}

type job struct {
	event model.Event
	hook  HookConfig
}

// NewClient creates a webhook client and starts its delivery worker.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		queue:  make(chan *job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logging.WithFields(map[string]any{"component": "webhook"}),
	}
	if cfg.Enabled {
		c.once.Do(func() {
			c.wg.Add(1)
			go c.worker()
		})
	}
	return c
}

// Publish queues the event for delivery to every matching hook. A full
// queue drops the event rather than blocking the caller.
func (c *Client) Publish(event model.Event) {
	if !c.config.Enabled {
		return
	}
	for _, hook := range c.config.Hooks {
		if !hook.Enabled || !matches(hook, event.Type) {
			continue
		}
		select {
		case c.queue <- &job{event: event, hook: hook}:
		default:
			c.logger.Warn("webhook queue full, dropping event", map[string]any{
				"event": string(event.Type), "url": hook.URL})
		}
	}
}

// Close stops the worker after draining queued deliveries.
func (c *Client) Close() error {
	if !c.config.Enabled {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			for len(c.queue) > 0 {
				c.deliver(<-c.queue)
			}
			return
		case j := <-c.queue:
			c.deliver(j)
		}
	}
}

func (c *Client) deliver(j *job) {
	if err := c.sendWithRetries(j); err != nil {
		c.logger.ErrorErr("webhook delivery failed", err, map[string]any{
			"event": string(j.event.Type), "url": j.hook.URL})
	}
}

func (c *Client) sendWithRetries(j *job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				// Shutdown finishes the current attempt but does not wait
				// out further retry delays.
				return lastErr
			case <-time.After(c.config.retryDelay()):
			}
		}

		req, err := c.newRequest(j.hook, j.event, payload)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return lastErr
}

func (c *Client) newRequest(hook HookConfig, event model.Event, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PDM-Webhook/1.0")
	req.Header.Set("X-PDM-Event", string(event.Type))
	if hook.Secret != "" {
		req.Header.Set("X-PDM-Signature", Sign(payload, hook.Secret))
	}
	return req, nil
}

// Sign computes the signature receivers use to authenticate a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matches(hook HookConfig, eventType model.EventType) bool {
	for _, e := range hook.Events {
		if e == "*" || e == string(eventType) {
			return true
		}
	}
	return false
}
