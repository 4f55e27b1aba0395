package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotBridge/internal/collector"
	"SpotBridge/internal/logging"
	"SpotBridge/internal/model"
	"SpotBridge/internal/plc"
)

func TestFormatStatistics_AbsentValues(t *testing.T) {
	stats := &model.DerivedStatistics{
		DailyMin:   model.Float(13.4),
		DailyMax:   model.Float(16.08),
		Params:     model.DefaultPercentiles,
		Records:    2,
		ComputedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Errors:     []error{errors.New("percentile x 2 outside [0,1]")},
	}
	out := FormatStatistics(stats)
	assert.Contains(t, out, "13.40")
	assert.Contains(t, out, "16.08")
	assert.Contains(t, out, "Top 66% starts at")
	assert.Contains(t, out, notAvailable)
	assert.Contains(t, out, "percentile x 2 outside")
	assert.Contains(t, FormatStatistics(nil), "No statistics")
}

func TestFormatCycleReport(t *testing.T) {
	rep := model.NewCycleReport(model.TriggerSchedule, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC))
	rep.Writes = []model.WriteResult{
		{Metric: model.MetricSpread, Address: 0, Status: model.WriteOK},
		{Metric: model.MetricCurrentHour, Address: 2, Status: model.WriteFailed, Err: &plc.WriteError{
			Address: 2, Kind: plc.ErrorKindException,
			Err: &modbus.ModbusError{FunctionCode: 0x86, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress},
		}},
		{Metric: model.MetricPercentileHigh, Address: 4, Status: model.WriteUnavailable},
	}
	out := FormatCycleReport(rep)
	assert.Contains(t, out, "1 written, 1 failed, 1 not available")
	assert.Contains(t, out, "register 2 (current_hour): the controller rejected the value")
	assert.Contains(t, out, "register 4 (percentile_high): no value this hour")

	rep.Err = fmt.Errorf("fetch price series: %w", &collector.FetchError{Op: "fetch prices", Attempts: 3, Status: 429, Err: collector.ErrRateLimited})
	assert.Contains(t, FormatCycleReport(rep), "failed: the price service is rate limiting")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "the price service refused the API key", Describe(fmt.Errorf("x: %w", collector.ErrUnauthorized)))
	assert.Equal(t, "the value does not fit in a 16-bit register",
		Describe(&plc.WriteError{Kind: plc.ErrorKindEncoding, Err: plc.ErrValueOutOfRange}))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []string
	srv  *httptest.Server
}

func newFakeTelegram(t *testing.T, updates string) *fakeTelegram {
	f := &fakeTelegram{}
	served := false
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			f.sent = append(f.sent, payload["text"])
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if served || updates == "" {
				_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			served = true
			_, _ = w.Write([]byte(updates))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTelegram) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestNotifier(f *fakeTelegram) *TelegramNotifier {
	tn := NewTelegramNotifier("TOKEN", "42", "", logging.Nop())
	tn.APIBase = f.srv.URL
	tn.MaxRetries = 0
	return tn
}

func TestTelegramNotifier_NotifyCycle(t *testing.T) {
	f := newFakeTelegram(t, "")
	tn := newTestNotifier(f)
	ctx := context.Background()

	ok := model.NewCycleReport(model.TriggerSchedule, time.Now())
	ok.Writes = []model.WriteResult{{Status: model.WriteOK}}
	require.NoError(t, tn.NotifyCycle(ctx, ok))
	assert.Empty(t, f.messages())

	bad := model.NewCycleReport(model.TriggerSchedule, time.Now())
	bad.Err = errors.New("upstream down")
	require.NoError(t, tn.NotifyCycle(ctx, bad))
	require.Len(t, f.messages(), 1)
	assert.Contains(t, f.messages()[0], "upstream down")

	require.NoError(t, tn.NotifyCycle(ctx, ok))
	require.Len(t, f.messages(), 2)
	assert.Contains(t, f.messages()[1], "recovered")

	require.NoError(t, tn.NotifyCycle(ctx, ok))
	assert.Len(t, f.messages(), 2)
}

func TestTelegramNotifier_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	tn := NewTelegramNotifier("TOKEN", "42", "", logging.Nop())
	tn.APIBase = srv.URL
	err := tn.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

// flakyTelegram answers sendMessage with the given statuses in order, then 200.
func flakyTelegram(t *testing.T, statuses ...int) (*httptest.Server, func() int) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= len(statuses) {
			w.WriteHeader(statuses[calls-1])
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

func TestSendWithRetry(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		maxRetries int
		wantErr    bool
		wantCalls  int
	}{
		{"succeeds after transient failures", []int{502, 429}, 3, false, 3},
		{"gives up after the retry budget", []int{500, 500, 500, 500}, 2, true, 3},
		{"no retries", []int{503}, 0, true, 1},
		{"client error is permanent", []int{400}, 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := flakyTelegram(t, tt.statuses...)
			tn := NewTelegramNotifier("TOKEN", "42", "", logging.Nop())
			tn.APIBase = srv.URL
			tn.RetryDelay = time.Millisecond

			start := time.Now()
			err := tn.SendWithRetry(context.Background(), "hello", tt.maxRetries)
			if tt.wantErr {
				require.Error(t, err)
				var apiErr *APIError
				assert.ErrorAs(t, err, &apiErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls())
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestSendWithRetry_StopsOnContextCancel(t *testing.T) {
	srv, calls := flakyTelegram(t, 500, 500, 500, 500, 500)
	tn := NewTelegramNotifier("TOKEN", "42", "", logging.Nop())
	tn.APIBase = srv.URL
	tn.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tn.SendWithRetry(ctx, "hello", 4)
	require.Error(t, err)
	assert.Equal(t, 1, calls())
}

func TestStartPolling_AnswersConfiguredChatOnly(t *testing.T) {
	f := newFakeTelegram(t, `{"ok":true,"result":[
		{"update_id":7,"message":{"text":"/status","chat":{"id":99}}},
		{"update_id":8,"message":{"text":" /status ","chat":{"id":42}}}
	]}`)
	tn := newTestNotifier(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []string
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		tn.StartPolling(ctx, func(cmd string) string {
			mu.Lock()
			got = append(got, cmd)
			mu.Unlock()
			return "all good"
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(f.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/status"}, got)
	assert.Equal(t, "all good", f.messages()[0])
}
