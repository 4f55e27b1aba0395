package plc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"SpotBridge/internal/model"
)

// Session is an open link to one controller.
type Session struct {
	mu   sync.Mutex
	ep   Endpoint
	conn Conn
	log  *zap.SugaredLogger
}

// Open connects using the Modbus dialer.
func Open(ctx context.Context, ep Endpoint, log *zap.SugaredLogger) (*Session, error) {
	return OpenWith(ctx, ep, DialModbus, log)
}

// OpenWith connects using dial, trying up to ep.ConnectAttempts times.
func OpenWith(ctx context.Context, ep Endpoint, dial Dialer, log *zap.SugaredLogger) (*Session, error) {
	attempts := ep.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("connect plc %s: %w", ep, err)
		}
		conn, err := dial(ep)
		if err == nil {
			log.Infow("plc connected", "endpoint", ep.String(), "attempt", attempt)
			return &Session{ep: ep, conn: conn, log: log}, nil
		}
		lastErr = err
		log.Warnw("plc connect failed", "endpoint", ep.String(), "attempt", attempt, "error", err)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("connect plc %s: %w", ep, ctx.Err())
			case <-time.After(ep.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect plc %s after %d attempts: %w", ep, attempts, lastErr)
}

// Endpoint returns the address the session is connected to.
func (s *Session) Endpoint() Endpoint { return s.ep }

// Connected reports whether the session still holds a connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// WriteRegister scales value and writes it to a single holding register.
// Errors are *WriteError.
func (s *Session) WriteRegister(address uint16, value float64, scale int) error {
	_, err := s.write(address, value, scale)
	return err
}

func (s *Session) write(address uint16, value float64, scale int) (uint16, error) {
	raw, err := Encode(value, scale)
	if err != nil {
		return 0, &WriteError{Address: address, Kind: ErrorKindEncoding, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return raw, &WriteError{Address: address, Kind: ErrorKindIO, Err: ErrNotConnected}
	}
	if _, err := s.conn.WriteSingleRegister(address, raw); err != nil {
		return raw, &WriteError{Address: address, Kind: classify(err), Err: err}
	}
	return raw, nil
}

// WriteAll attempts every register of the batch and reports each outcome.
// Registers without a value are skipped and reported as unavailable. Once ctx
// is done the remaining registers are reported as failed without being sent.
func (s *Session) WriteAll(ctx context.Context, values model.RegisterValues) []model.WriteResult {
	results := make([]model.WriteResult, 0, len(values))
	for _, v := range values {
		res := model.WriteResult{Metric: v.Metric, Address: v.Register.Address, Value: v.Value}
		switch {
		case v.Value == nil:
			res.Status = model.WriteUnavailable
		case ctx.Err() != nil:
			res.Status = model.WriteFailed
			res.Err = ctx.Err()
		default:
			raw, err := s.write(v.Register.Address, *v.Value, v.Register.Scale)
			res.Raw = raw
			if err != nil {
				res.Status = model.WriteFailed
				res.Err = err
				s.log.Warnw("register write failed", "register", v.Register.Address, "metric", v.Metric, "error", err)
			} else {
				res.Status = model.WriteOK
				s.log.Debugw("register written", "register", v.Register.Address, "metric", v.Metric, "raw", raw)
			}
		}
		results = append(results, res)
	}
	return results
}

// Close releases the connection. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.log.Infow("plc disconnected", "endpoint", s.ep.String())
	return err
}
