package bridge

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialPortNone selects a port that discards writes and never produces telemetry
const SerialPortNone = "none"

// DefaultBaudRate is the rate of the BeagleBone UART4 link
const DefaultBaudRate = 38400

var ErrNoSerialPorts = errors.New("no serial ports found")

// Port is the byte stream to the motion controller
type Port interface {
	io.ReadWriteCloser
}

// Config selects and configures the serial device
type Config struct {
	// Device path (e.g. "/dev/ttyS4") or SerialPortNone
	Device   string
	BaudRate int
}

// DefaultConfig returns the configuration of the BeagleBone UART4 link
func DefaultConfig(device string) Config {
	return Config{
		Device:   device,
		BaudRate: DefaultBaudRate,
	}
}

// Open opens the serial device and clears any stale bytes in both directions
func Open(cfg Config) (Port, error) {
	if cfg.Device == SerialPortNone {
		return NewNopPort(), nil
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device is required")
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", cfg.Device, err)
	}

	err = port.ResetInputBuffer()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("error resetting input buffer: %w", err)
	}
	err = port.ResetOutputBuffer()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("error resetting output buffer: %w", err)
	}

	return port, nil
}

// PortInfo describes a serial port found on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// GetSerialPorts lists the serial ports on the host with USB ports first
func GetSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}
	if len(details) == 0 {
		return nil, ErrNoSerialPorts
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}

	sort.SliceStable(ports, func(i, j int) bool {
		return ports[i].IsUSB && !ports[j].IsUSB
	})

	return ports, nil
}

// nopPort is used when running without hardware
type nopPort struct {
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Port = (*nopPort)(nil)

// NewNopPort returns a Port that accepts every write and blocks reads until closed
func NewNopPort() Port {
	return &nopPort{closed: make(chan struct{})}
}

func (p *nopPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *nopPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}
	return len(b), nil
}

func (p *nopPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
