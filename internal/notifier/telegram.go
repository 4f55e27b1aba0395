package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"SpotBridge/internal/model"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken   string
	ChatID     string
	APIBase    string
	Client     *http.Client
	MaxRetries int
	RetryDelay time.Duration // first wait between attempts, growing exponentially
	Log        *zap.SugaredLogger

	mu         sync.Mutex
	lastFailed bool
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, log *zap.SugaredLogger) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken:   botToken,
		ChatID:     chatID,
		APIBase:    defaultTelegramAPI,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Log:        log,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (t *TelegramNotifier) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.APIBase, t.BotToken, name)
}

// APIError is a non-200 answer from the Bot API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: status %d, body: %s", e.Status, e.Body)
}

// retryable reports whether resending might succeed.
func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": t.ChatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// SendWithRetry sends a message, retrying up to maxRetries times with
// exponential backoff. Client errors other than 429 are not retried.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	eb := backoff.NewExponentialBackOff()
	if t.RetryDelay > 0 {
		eb.InitialInterval = t.RetryDelay
	}
	attempt := 0
	op := func() error {
		attempt++
		err := t.Send(ctx, text)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			t.Log.Errorw("telegram rejected message, not retrying", "attempt", attempt, "error", err)
			return backoff.Permanent(err)
		}
		t.Log.Warnw("telegram send failed", "attempt", attempt, "max", maxRetries+1, "error", err)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(maxRetries, 0))), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("send after %d attempt(s): %w", attempt, err)
	}
	return nil
}

// NotifyCycle alerts on failed cycles and on the first good cycle after a failure.
func (t *TelegramNotifier) NotifyCycle(ctx context.Context, rep *model.CycleReport) error {
	t.mu.Lock()
	failed := !rep.OK()
	recovered := !failed && t.lastFailed
	t.lastFailed = failed
	t.mu.Unlock()

	switch {
	case failed:
		return t.SendWithRetry(ctx, "SpotBridge: "+FormatCycleReport(rep), t.MaxRetries)
	case recovered:
		return t.SendWithRetry(ctx, "SpotBridge recovered. "+FormatCycleReport(rep), t.MaxRetries)
	}
	return nil
}
