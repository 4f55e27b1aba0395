package plc

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"syscall"

	"github.com/goburrow/modbus"
	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected    = errors.New("plc not connected")
	ErrValueOutOfRange = errors.New("value does not fit a 16-bit register")
)

// ErrorKind classifies a failed register write.
type ErrorKind string

const (
	ErrorKindException ErrorKind = "exception" // the device rejected the request
	ErrorKindIO        ErrorKind = "io"
	ErrorKindProtocol  ErrorKind = "protocol"
	ErrorKindEncoding  ErrorKind = "encoding"
)

// WriteError is returned for a failed write to one register.
type WriteError struct {
	Address uint16
	Kind    ErrorKind
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write register %d (%s): %v", e.Address, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Encode scales value and converts it to the 16-bit register representation.
// The fractional part is truncated toward zero; negative results are stored
// as int16 two's complement.
func Encode(value float64, scale int) (uint16, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %v", ErrValueOutOfRange, value)
	}
	n := decimal.NewFromFloat(value).Mul(decimal.NewFromInt(int64(scale))).IntPart()
	switch {
	case n < math.MinInt16 || n > math.MaxUint16:
		return 0, fmt.Errorf("%w: %v x %d = %d", ErrValueOutOfRange, value, scale, n)
	case n < 0:
		return uint16(int16(n)), nil
	default:
		return uint16(n), nil
	}
}

func classify(err error) ErrorKind {
	var mbErr *modbus.ModbusError
	var netErr net.Error
	switch {
	case errors.As(err, &mbErr):
		return ErrorKindException
	case errors.Is(err, ErrValueOutOfRange):
		return ErrorKindEncoding
	case errors.Is(err, ErrNotConnected),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.As(err, &netErr):
		return ErrorKindIO
	default:
		return ErrorKindProtocol
	}
}
