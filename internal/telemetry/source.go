package telemetry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/i2c"
	"github.com/artificial-imagination/tamaki/internal/tca9548a"
	"github.com/artificial-imagination/tamaki/internal/tlv493d"
)

// DirectChannel marks a source wired straight to the bus rather than
// behind the multiplexer.
const DirectChannel = -1

// Reader yields magnetic field readings. *tlv493d.Sensor is the
// production implementation.
type Reader interface {
	Magnetic() (tlv493d.Reading, error)
}

// Source is one initialized sensor bound to its bus path.
type Source struct {
	ID      string
	Name    string
	Channel int // mux channel, DirectChannel when wired to the bus

	reader Reader
	mux    *tca9548a.Mux // set for mux-attached sources, recovery path
}

// NewSource binds a reader to its identity. mux may be nil for directly
// attached sensors.
func NewSource(id, name string, channel int, r Reader, mux *tca9548a.Mux) *Source {
	return &Source{ID: id, Name: name, Channel: channel, reader: r, mux: mux}
}

// Read returns the current field reading.
func (s *Source) Read() (tlv493d.Reading, error) {
	return s.reader.Magnetic()
}

// Recover kicks the multiplexer channel after a wedge: disable all
// channels, settle, re-select. No-op for directly attached sources.
func (s *Source) Recover() error {
	if s.mux == nil {
		return nil
	}
	return s.mux.Recover(s.Channel)
}

// BuildSources initializes every configured sensor and returns the ones
// that came up. Init failures are logged and skipped; the sender runs
// with whatever responded, matching how the installation degrades when a
// cable walks off.
func BuildSources(bus i2c.Bus, mux *tca9548a.Mux, sensors []config.Sensor, logger *slog.Logger) []*Source {
	sources := make([]*Source, 0, len(sensors))
	for _, sc := range sensors {
		src, err := buildSource(bus, mux, sc)
		if err != nil {
			logger.Warn("sensor init failed",
				"sensor", sc.ID,
				"name", sc.DisplayName(),
				"attach", sc.Attach,
				"channel", sc.Channel,
				"error", err)
			continue
		}
		logger.Info("sensor initialized",
			"sensor", sc.ID,
			"name", sc.DisplayName(),
			"attach", sc.Attach,
			"channel", sc.Channel)
		sources = append(sources, src)
	}
	return sources
}

func buildSource(bus i2c.Bus, mux *tca9548a.Mux, sc config.Sensor) (*Source, error) {
	switch sc.Attach {
	case config.AttachDirect:
		sensor, err := tlv493d.New(bus, sc.Address)
		if err != nil {
			return nil, err
		}
		return NewSource(sc.ID, sc.DisplayName(), DirectChannel, sensor, nil), nil

	case config.AttachMux:
		if mux == nil {
			return nil, errors.New("multiplexer not available")
		}
		ch, err := mux.Channel(sc.Channel)
		if err != nil {
			return nil, err
		}
		sensor, err := tlv493d.New(ch, sc.Address)
		if err != nil {
			return nil, err
		}
		return NewSource(sc.ID, sc.DisplayName(), sc.Channel, sensor, mux), nil

	default:
		return nil, fmt.Errorf("unknown attach mode %q", sc.Attach)
	}
}
