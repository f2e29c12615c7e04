// Package config loads and validates the tamaki TOML configuration.
//
// One file describes the whole installation: where telemetry goes, which
// I2C bus and sensors exist, how the supervised session is launched, and
// which system commands are allowed. Search order for the file: --config
// flag, TAMAKI_CONFIG env var, ./config.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/artificial-imagination/tamaki/internal/util"
)

// EnvConfig overrides the default config path when the --config flag is unset.
const EnvConfig = "TAMAKI_CONFIG"

// EnvStateDir overrides the directory holding locks and the events feed.
const EnvStateDir = "TAMAKI_STATE_DIR"

// Defaults mirror the fallbacks of the installation's original config.ini.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8000
	DefaultCommandPort   = 8001
	DefaultFrequencyHz   = 10.0
	DefaultSession       = "tamaki"
	DefaultBusDevice     = "/dev/i2c-1"
	DefaultMuxAddress    = 0x70
	DefaultSensorAddress = 0x5E
	DefaultOSCPrefix     = "/tamaki"
	DefaultMetricsListen = ":2112"
)

// Payload formats for the sender.
const (
	FormatJSON = "json"
	FormatOSC  = "osc"
)

// Sensor attachment modes.
const (
	AttachDirect = "direct" // wired straight to the bus
	AttachMux    = "mux"    // behind a TCA9548A channel
)

var ErrNotFound = errors.New("config file not found")

// Config is the root of the TOML document.
type Config struct {
	Network  Network  `toml:"network"`
	Bus      Bus      `toml:"bus"`
	Sender   Sender   `toml:"sender"`
	Launcher Launcher `toml:"launcher"`
	System   System   `toml:"system"`
	Metrics  Metrics  `toml:"metrics"`
	Sensors  []Sensor `toml:"sensors"`
}

// Network holds the UDP targets.
type Network struct {
	Host        string `toml:"host"`         // rendering host receiving telemetry
	Port        int    `toml:"port"`         // telemetry destination port
	CommandPort int    `toml:"command_port"` // local control port
}

// Bus identifies the I2C bus and the multiplexer on it.
type Bus struct {
	Device     string `toml:"device"`
	MuxAddress uint8  `toml:"mux_address"`
}

// Sender controls pacing and payload encoding.
type Sender struct {
	FrequencyHz float64 `toml:"frequency_hz"` // 0 disables pacing
	Format      string  `toml:"format"`
	OSCPrefix   string  `toml:"osc_prefix"`
}

// Launcher configures the supervised tmux session.
type Launcher struct {
	Session string `toml:"session"`
	WorkDir string `toml:"work_dir"` // empty: launcher's cwd
	Command string `toml:"command"`  // empty: re-exec self as "send"
}

// System gates commands with host-level side effects.
type System struct {
	EnableSystemCommands bool `toml:"enable_system_commands"`
}

// Metrics configures the optional Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Sensor describes one magnetometer.
type Sensor struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Attach  string `toml:"attach"`
	Channel int    `toml:"channel"` // mux channel, 0-7
	Address uint8  `toml:"address"`
}

// DisplayName returns the human label, falling back to the wire ID.
func (s Sensor) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Default returns a Config with every field at its fallback value and no
// sensors defined.
func Default() *Config {
	return &Config{
		Network: Network{
			Host:        DefaultHost,
			Port:        DefaultPort,
			CommandPort: DefaultCommandPort,
		},
		Bus: Bus{
			Device:     DefaultBusDevice,
			MuxAddress: DefaultMuxAddress,
		},
		Sender: Sender{
			FrequencyHz: DefaultFrequencyHz,
			Format:      FormatJSON,
			OSCPrefix:   DefaultOSCPrefix,
		},
		Launcher: Launcher{
			Session: DefaultSession,
		},
		Metrics: Metrics{
			Listen: DefaultMetricsListen,
		},
	}
}

// WriteStarter writes a default config to path for the operator to
// edit. Refuses to touch an existing file, even a malformed one.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	var buf bytes.Buffer
	buf.WriteString("# tamaki configuration. Every value shown is the default.\n")
	buf.WriteString("# Add [[sensors]] blocks once the wiring is known ('tamaki scan' lists it).\n\n")
	if err := toml.NewEncoder(&buf).Encode(Default()); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0o644)
}

// ResolvePath picks the config file path: explicit flag value, then the
// TAMAKI_CONFIG env var, then ./config.toml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return "config.toml"
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Sensors may be empty (the
// sender then runs idle, which is still useful for wire debugging).
func (c *Config) Validate() error {
	if c.Network.Host == "" {
		return errors.New("network.host must not be empty")
	}
	if err := validPort(c.Network.Port); err != nil {
		return fmt.Errorf("network.port: %w", err)
	}
	if err := validPort(c.Network.CommandPort); err != nil {
		return fmt.Errorf("network.command_port: %w", err)
	}
	if c.Network.Port == c.Network.CommandPort && c.Network.Host == "127.0.0.1" {
		return errors.New("network.port and network.command_port collide on localhost")
	}
	if c.Sender.FrequencyHz < 0 {
		return fmt.Errorf("sender.frequency_hz must be >= 0, got %v", c.Sender.FrequencyHz)
	}
	switch c.Sender.Format {
	case FormatJSON, FormatOSC:
	default:
		return fmt.Errorf("sender.format must be %q or %q, got %q", FormatJSON, FormatOSC, c.Sender.Format)
	}
	if c.Launcher.Session == "" {
		return errors.New("launcher.session must not be empty")
	}
	if c.Bus.Device == "" {
		return errors.New("bus.device must not be empty")
	}
	if err := validI2CAddress(c.Bus.MuxAddress); err != nil {
		return fmt.Errorf("bus.mux_address: %w", err)
	}

	seen := make(map[string]bool)
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if s.ID == "" {
			return fmt.Errorf("sensors[%d]: id must not be empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sensors[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true

		if s.Attach == "" {
			s.Attach = AttachMux
		}
		switch s.Attach {
		case AttachDirect:
		case AttachMux:
			if s.Channel < 0 || s.Channel > 7 {
				return fmt.Errorf("sensor %q: channel must be 0-7, got %d", s.ID, s.Channel)
			}
		default:
			return fmt.Errorf("sensor %q: attach must be %q or %q, got %q", s.ID, AttachDirect, AttachMux, s.Attach)
		}

		if s.Address == 0 {
			s.Address = DefaultSensorAddress
		}
		if err := validI2CAddress(s.Address); err != nil {
			return fmt.Errorf("sensor %q: address: %w", s.ID, err)
		}
	}
	return nil
}

// DataAddr returns the host:port telemetry destination.
func (c *Config) DataAddr() string {
	return net.JoinHostPort(c.Network.Host, strconv.Itoa(c.Network.Port))
}

// CommandAddr returns the control listener's address as seen from this
// host. The listener binds the wildcard, but clients on the Pi itself
// reach it over loopback.
func (c *Config) CommandAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Network.CommandPort))
}

// StateDir returns the directory for locks and the events feed:
// TAMAKI_STATE_DIR if set, else ~/.tamaki.
func StateDir() (string, error) {
	if env := os.Getenv(EnvStateDir); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".tamaki"), nil
}

func validPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("must be 1-65535, got %d", p)
	}
	return nil
}

// 7-bit addresses outside 0x03..0x77 are reserved by the I2C spec.
func validI2CAddress(a uint8) error {
	if a < 0x03 || a > 0x77 {
		return fmt.Errorf("must be 0x03-0x77, got %#02x", a)
	}
	return nil
}
