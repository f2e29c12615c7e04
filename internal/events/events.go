// Package events appends operational events to a JSONL feed in the
// state directory. The feed is an audit trail: session launches and
// deaths, sender start/stop, remote commands, sensor faults. status and
// doctor read it; nothing replays it.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EventsFile is the feed filename inside the state directory.
const EventsFile = "events.jsonl"

// Event types.
const (
	TypeSessionStart = "session_start"
	TypeSessionDeath = "session_death"
	TypeSenderStart  = "sender_start"
	TypeSenderStop   = "sender_stop"
	TypeCommand      = "command"
	TypeSensorFault  = "sensor_fault"
	TypeBusRecovered = "bus_recovered"
)

// Actors identify which part of the system emitted an event.
const (
	ActorCLI    = "cli"
	ActorSender = "sender"
	ActorDoctor = "doctor"
)

// Event is one line of the feed.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Append writes the event to the feed, assigning ID and Timestamp when
// unset. The feed and its directory are created on first use.
func Append(stateDir string, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(stateDir, EventsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening events feed: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Log is the convenience form of Append.
func Log(stateDir, eventType, actor string, payload map[string]any) error {
	return Append(stateDir, Event{Type: eventType, Actor: actor, Payload: payload})
}

// Tail returns the most recent n events, oldest first. A missing feed
// is an empty result, not an error. Malformed lines are skipped.
func Tail(stateDir string, n int) ([]Event, error) {
	path := filepath.Join(stateDir, EventsFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening events feed: %w", err)
	}
	defer f.Close()

	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading events feed: %w", err)
	}

	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// SessionStartPayload describes a freshly launched session.
func SessionStartPayload(session, command string, pid int) map[string]any {
	p := map[string]any{
		"session": session,
		"command": command,
	}
	if pid > 0 {
		p["pid"] = pid
	}
	return p
}

// SessionDeathPayload describes a session teardown.
func SessionDeathPayload(session, reason, caller string) map[string]any {
	p := map[string]any{
		"session": session,
		"caller":  caller,
	}
	if reason != "" {
		p["reason"] = reason
	}
	return p
}

// SenderStartPayload describes the sender coming up.
func SenderStartPayload(sensors []string, frequencyHz float64, format string) map[string]any {
	return map[string]any{
		"sensors":      sensors,
		"frequency_hz": frequencyHz,
		"format":       format,
	}
}

// SenderStopPayload describes the sender shutting down.
func SenderStopPayload(reason string, packetsSent uint64) map[string]any {
	p := map[string]any{
		"packets_sent": packetsSent,
	}
	if reason != "" {
		p["reason"] = reason
	}
	return p
}

// CommandPayload describes a remote command and its outcome.
func CommandPayload(command, remote string, ok bool, detail string) map[string]any {
	p := map[string]any{
		"command": command,
		"remote":  remote,
		"ok":      ok,
	}
	if detail != "" {
		p["detail"] = detail
	}
	return p
}

// SensorFaultPayload describes a sensor read or init failure.
func SensorFaultPayload(sensor, op, errMsg string) map[string]any {
	p := map[string]any{
		"sensor": sensor,
		"op":     op,
	}
	if errMsg != "" {
		p["error"] = truncate(errMsg, 500)
	}
	return p
}

// BusRecoveredPayload describes a multiplexer recovery cycle.
func BusRecoveredPayload(channel, attempt int) map[string]any {
	return map[string]any{
		"channel": channel,
		"attempt": attempt,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
