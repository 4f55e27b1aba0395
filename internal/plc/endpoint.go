package plc

import (
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
)

const (
	TransportTCP = "tcp"
	TransportRTU = "rtu"
)

// Endpoint describes how to reach the controller.
type Endpoint struct {
	Transport    string
	Address      string // host:port for tcp
	SerialDevice string // e.g. /dev/ttyUSB0 for rtu
	BaudRate     int
	DataBits     int
	Parity       string
	StopBits     int
	SlaveID      byte
	Timeout      time.Duration

	ConnectAttempts int
	RetryDelay      time.Duration
	Ping            bool // ICMP probe before a tcp connect
}

func (e Endpoint) String() string {
	if e.Transport == TransportRTU {
		return fmt.Sprintf("rtu://%s?slave=%d", e.SerialDevice, e.SlaveID)
	}
	return fmt.Sprintf("tcp://%s?slave=%d", e.Address, e.SlaveID)
}

// Conn is the part of a Modbus client the session uses.
type Conn interface {
	WriteSingleRegister(address, value uint16) ([]byte, error)
	Close() error
}

// Dialer establishes one connection attempt.
type Dialer func(ep Endpoint) (Conn, error)

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type modbusConn struct {
	modbus.Client
	handler handler
}

func (c *modbusConn) Close() error { return c.handler.Close() }

// DialModbus connects with goburrow/modbus over TCP or RTU.
func DialModbus(ep Endpoint) (Conn, error) {
	var h handler
	switch ep.Transport {
	case TransportRTU:
		rtu := modbus.NewRTUClientHandler(ep.SerialDevice)
		rtu.BaudRate = ep.BaudRate
		rtu.DataBits = ep.DataBits
		rtu.Parity = ep.Parity
		rtu.StopBits = ep.StopBits
		rtu.SlaveId = ep.SlaveID
		rtu.Timeout = ep.Timeout
		h = rtu
	case TransportTCP, "":
		if ep.Ping {
			if err := ping(ep.Address); err != nil {
				return nil, fmt.Errorf("ping %s: %w", ep.Address, err)
			}
		}
		tcp := modbus.NewTCPClientHandler(ep.Address)
		tcp.SlaveId = ep.SlaveID
		tcp.Timeout = ep.Timeout
		h = tcp
	default:
		return nil, fmt.Errorf("unknown transport %q", ep.Transport)
	}

	if err := h.Connect(); err != nil {
		h.Close()
		return nil, err
	}
	return &modbusConn{Client: modbus.NewClient(h), handler: h}, nil
}

func ping(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return err
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no response")
	}
	return nil
}
