// Package serialbridge programs application PLL registers on a remote board
// through a small command protocol over a USB serial port.
//
// Each command is a frame of [code, length, payload...] where length counts
// the whole frame. The board answers every command with [code, status].
package serialbridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/usnistgov/swpll/appll"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Command codes
const (
	CmdPing     = 0
	CmdWriteReg = 1
)

// Status codes
const (
	AckOkay        = 0
	AckBadCommand  = 1
	AckBadRegister = 2
	AckBusError    = 3
)

// DefaultBaudRate is the rate the bridge firmware expects.
const DefaultBaudRate = 115200

// ackError converts an ACK status code to an error.
func ackError(code byte) error {
	msg := "unknown error"
	switch code {
	case AckOkay:
		return nil
	case AckBadCommand:
		msg = "bad command"
	case AckBadRegister:
		msg = "bad register"
	case AckBusError:
		msg = "register bus error"
	}
	return fmt.Errorf("bridge error: %s (status %d)", msg, code)
}

// Client talks to one bridge. It satisfies appll.RegisterWriter, and its
// methods may be called from several goroutines.
type Client struct {
	mu   sync.Mutex
	port io.ReadWriter
}

// New returns a client on an already open port.
func New(port io.ReadWriter) *Client {
	return &Client{port: port}
}

// Open opens the named serial port and checks that a bridge answers.
func Open(name string, baudRate int) (*Client, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	c := New(port)
	if err := c.Ping(); err != nil {
		port.Close()
		return nil, fmt.Errorf("no bridge on %s: %w", name, err)
	}
	return c, nil
}

// ListPorts returns the USB serial ports present, for choosing a bridge.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var usb []*enumerator.PortDetails
	for _, p := range ports {
		if p.IsUSB {
			usb = append(usb, p)
		}
	}
	return usb, nil
}

// Close closes the port, if it can be closed.
func (c *Client) Close() error {
	if closer, ok := c.port.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// doCommand sends a command and reads the ACK response.
func (c *Client) doCommand(cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.port.Write(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	ack := make([]byte, 2)
	if _, err := io.ReadFull(c.port, ack); err != nil {
		return fmt.Errorf("failed to read ACK: %w", err)
	}
	if ack[0] != cmd[0] {
		return fmt.Errorf("command returned garbage (0x%02x != 0x%02x with status 0x%02x)",
			ack[0], cmd[0], ack[1])
	}
	return ackError(ack[1])
}

// Ping checks that the bridge responds.
func (c *Client) Ping() error {
	return c.doCommand([]byte{CmdPing, 2})
}

// WriteReg writes val to an application PLL register on the board.
func (c *Client) WriteReg(reg appll.Register, val uint32) error {
	cmd := make([]byte, 7)
	cmd[0] = CmdWriteReg
	cmd[1] = byte(len(cmd))
	cmd[2] = byte(reg)
	binary.LittleEndian.PutUint32(cmd[3:], val)
	if err := c.doCommand(cmd); err != nil {
		return fmt.Errorf("write %v=0x%08x: %w", reg, val, err)
	}
	return nil
}
