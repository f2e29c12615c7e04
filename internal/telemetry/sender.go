// Package telemetry implements the sampling and send loop: read every
// source, encode, fire a UDP datagram, pace to the target frequency.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/metrics"
	"github.com/artificial-imagination/tamaki/internal/tlv493d"
)

// recoverEvery limits wedge recovery attempts. Recovery costs two settle
// periods, so a persistently dead channel retries every 50 cycles
// instead of dragging every loop down.
const recoverEvery = 50

// Sender owns the telemetry socket and the pacing loop. The loop runs on
// one goroutine; SetFrequency may be called from others.
type Sender struct {
	conn       net.Conn
	sources    []*Source
	format     string
	oscPrefix  string
	configured int

	met    *metrics.Metrics
	logger *slog.Logger

	mu     sync.Mutex
	freqHz float64

	packets atomic.Uint64
	lastLog uint64
	start   time.Time

	nullStreak map[string]int
}

// New dials the telemetry target and prepares the loop. sources come
// from BuildSources; cfg supplies the destination, format, and initial
// frequency.
func New(cfg *config.Config, sources []*Source, met *metrics.Metrics, logger *slog.Logger) (*Sender, error) {
	conn, err := net.Dial("udp", cfg.DataAddr())
	if err != nil {
		return nil, fmt.Errorf("dialing telemetry target %s: %w", cfg.DataAddr(), err)
	}

	s := &Sender{
		conn:       conn,
		sources:    sources,
		format:     cfg.Sender.Format,
		oscPrefix:  cfg.Sender.OSCPrefix,
		configured: len(cfg.Sensors),
		met:        met,
		logger:     logger,
		freqHz:     cfg.Sender.FrequencyHz,
		nullStreak: make(map[string]int),
	}
	met.TargetFrequency.Set(s.freqHz)
	met.SensorsInitialized.Set(float64(len(sources)))
	return s, nil
}

// Close releases the telemetry socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// Frequency returns the current target frequency in Hz.
func (s *Sender) Frequency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqHz
}

// SetFrequency changes the target frequency. 0 means unpaced, as fast
// as the bus allows.
func (s *Sender) SetFrequency(hz float64) error {
	if hz < 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("invalid frequency %v", hz)
	}
	s.mu.Lock()
	s.freqHz = hz
	s.mu.Unlock()
	s.met.TargetFrequency.Set(hz)
	s.logger.Info("send frequency changed", "hz", hz)
	return nil
}

// SensorCounts returns how many sensors initialized and how many the
// config defines.
func (s *Sender) SensorCounts() (initialized, configured int) {
	return len(s.sources), s.configured
}

// SourceIDs lists the initialized sensor IDs in config order.
func (s *Sender) SourceIDs() []string {
	ids := make([]string, len(s.sources))
	for i, src := range s.sources {
		ids[i] = src.ID
	}
	return ids
}

// PacketsSent returns the datagram count so far.
func (s *Sender) PacketsSent() uint64 {
	return s.packets.Load()
}

// Run drives the loop until ctx is canceled. Read failures send zeros
// for the cycle and never stop the loop.
func (s *Sender) Run(ctx context.Context) error {
	s.start = time.Now()
	s.logger.Info("sender loop started",
		"target", s.conn.RemoteAddr().String(),
		"format", s.format,
		"frequency_hz", s.Frequency(),
		"sensors", len(s.sources))

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logFinal()
			return nil
		default:
		}

		hz := s.Frequency()
		loopStart := time.Now()

		samples := s.sample()
		s.send(samples)

		elapsed := time.Since(loopStart)
		s.met.CycleDuration.Observe(elapsed.Seconds())
		s.maybeLogStats(hz, elapsed)

		if hz > 0 {
			delay := time.Duration(float64(time.Second)/hz) - elapsed
			if delay > 0 {
				timer.Reset(delay)
				select {
				case <-ctx.Done():
					if !timer.Stop() {
						<-timer.C
					}
					s.logFinal()
					return nil
				case <-timer.C:
				}
			}
		}
	}
}

// sample reads every source. A failed read contributes zeros so the
// receiving side keeps a stable channel layout.
func (s *Sender) sample() []Sample {
	samples := make([]Sample, 0, len(s.sources))
	for _, src := range s.sources {
		r, err := src.Read()
		if err != nil {
			s.met.ReadErrors.WithLabelValues(src.ID).Inc()
			s.logger.Warn("sensor read failed", "sensor", src.ID, "error", err)
			if errors.Is(err, tlv493d.ErrNullFrame) {
				s.maybeRecover(src)
			}
			r = tlv493d.Reading{}
		} else {
			s.nullStreak[src.ID] = 0
		}
		samples = append(samples, Sample{ID: src.ID, Reading: r})
	}
	return samples
}

// maybeRecover kicks the mux channel on the first null frame of a
// streak, then every recoverEvery cycles while it persists.
func (s *Sender) maybeRecover(src *Source) {
	s.nullStreak[src.ID]++
	streak := s.nullStreak[src.ID]
	if streak != 1 && streak%recoverEvery != 0 {
		return
	}
	if err := src.Recover(); err != nil {
		s.logger.Warn("channel recovery failed",
			"sensor", src.ID, "channel", src.Channel, "streak", streak, "error", err)
		return
	}
	s.logger.Info("channel recovery attempted",
		"sensor", src.ID, "channel", src.Channel, "streak", streak)
}

func (s *Sender) send(samples []Sample) {
	switch s.format {
	case config.FormatOSC:
		packets, err := EncodeOSC(s.oscPrefix, samples)
		if err != nil {
			s.logger.Error("encoding telemetry", "error", err)
			return
		}
		for _, p := range packets {
			s.write(p)
		}
	default:
		payload, err := EncodeJSON(samples)
		if err != nil {
			s.logger.Error("encoding telemetry", "error", err)
			return
		}
		s.write(payload)
	}
}

func (s *Sender) write(p []byte) {
	if _, err := s.conn.Write(p); err != nil {
		s.met.SendErrors.Inc()
		s.logger.Error("telemetry send failed", "error", err)
		return
	}
	s.packets.Add(1)
	s.met.PacketsSent.Inc()
}

// maybeLogStats reports throughput roughly every 5 seconds of target
// rate, or every 200 packets when unpaced.
func (s *Sender) maybeLogStats(hz float64, loop time.Duration) {
	n := s.packets.Load()
	every := uint64(200)
	if hz > 0.1 {
		every = uint64(hz * 5)
	}
	if every < 1 {
		every = 1
	}
	if n == 0 || n-s.lastLog < every {
		return
	}
	s.lastLog = n

	runtime := time.Since(s.start).Seconds()
	if runtime <= 0 {
		return
	}
	target := "max"
	if hz > 0 {
		target = fmt.Sprintf("%.1f", hz)
	}
	s.logger.Info("telemetry stats",
		"packets", n,
		"avg_hz", math.Round(float64(n)/runtime*100)/100,
		"target_hz", target,
		"loop_ms", math.Round(float64(loop.Microseconds())/10)/100)
}

func (s *Sender) logFinal() {
	n := s.packets.Load()
	runtime := time.Since(s.start)
	if n == 0 || runtime <= 0 {
		return
	}
	s.logger.Info("sender finished",
		"packets", n,
		"runtime_s", math.Round(runtime.Seconds()*100)/100,
		"avg_hz", math.Round(float64(n)/runtime.Seconds()*100)/100)
}
