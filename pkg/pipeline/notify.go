package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mergepilot/pkg/logx"
)

// Channel is one webhook-style notification endpoint.
type Channel struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// NotificationPayload is the JSON body posted to every channel.
//
//nolint:govet // Logical grouping preferred over memory optimization
type NotificationPayload struct {
	Message      string `json:"message"`
	Environment  string `json:"environment"`
	PRNumber     int    `json:"pr_number"`
	DeploymentID string `json:"deployment_id"`
	Phase        Phase  `json:"phase,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Notifier fans a payload out to all configured channels. Channels fire
// independently: one failing endpoint never blocks the others or the caller.
type Notifier struct {
	channels []Channel
	client   *http.Client
	onResult func(delivered bool)
	logger   *logx.Logger
}

// NewNotifier creates a notifier. A nil client uses a 10s-timeout default;
// onResult, when set, observes the outcome of every per-channel delivery.
func NewNotifier(channels []Channel, client *http.Client, onResult func(delivered bool)) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		channels: channels,
		client:   client,
		onResult: onResult,
		logger:   logx.NewLogger("notify"),
	}
}

// Notify posts the payload to every channel, collecting failures. The
// returned errors are informational; callers log them and move on.
func (n *Notifier) Notify(ctx context.Context, payload NotificationPayload) []error {
	body, err := json.Marshal(payload)
	if err != nil {
		return []error{fmt.Errorf("encode notification: %w", err)}
	}

	var failures []error
	for i := range n.channels {
		channel := &n.channels[i]
		err := n.post(ctx, channel, body)
		if n.onResult != nil {
			n.onResult(err == nil)
		}
		if err != nil {
			n.logger.Warn("Notification to %s failed: %v", channel.Name, err)
			failures = append(failures, fmt.Errorf("channel %s: %w", channel.Name, err))
			continue
		}
		n.logger.Debug("Notified %s: %s", channel.Name, payload.Message)
	}
	return failures
}

func (n *Notifier) post(ctx context.Context, channel *Channel, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
