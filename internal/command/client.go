package command

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds one request/reply exchange.
const DefaultTimeout = 2 * time.Second

// Client sends control requests and waits for the reply. One datagram
// out, one in; no retries, UDP semantics apply.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient targets a control listener at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: DefaultTimeout}
}

// SetTimeout overrides the exchange deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Do sends req as JSON and returns the raw reply text.
func (c *Client) Do(req map[string]any) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	return c.Raw(data)
}

// Raw sends a pre-encoded request datagram and returns the reply text.
func (c *Client) Raw(data []byte) (string, error) {
	conn, err := net.Dial("udp", c.addr)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write(data); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("waiting for reply from %s: %w", c.addr, err)
	}
	return string(buf[:n]), nil
}

// SetFrequency asks the sender to retune.
func (c *Client) SetFrequency(hz float64) (string, error) {
	return c.Do(map[string]any{"command": CmdSetFrequency, "hz": hz})
}

// GetStatus fetches and parses the status report.
func (c *Client) GetStatus() (*StatusReport, error) {
	reply, err := c.Do(map[string]any{"command": CmdGetStatus})
	if err != nil {
		return nil, err
	}
	var report StatusReport
	if err := json.Unmarshal([]byte(reply), &report); err != nil {
		return nil, fmt.Errorf("unexpected reply: %s", reply)
	}
	return &report, nil
}

// Reboot requests a host reboot.
func (c *Client) Reboot() (string, error) {
	return c.Do(map[string]any{"command": CmdReboot})
}

// Shutdown requests a host shutdown.
func (c *Client) Shutdown() (string, error) {
	return c.Do(map[string]any{"command": CmdShutdown})
}
