package telemetry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/artificial-imagination/tamaki/internal/osc"
	"github.com/artificial-imagination/tamaki/internal/tlv493d"
)

// Sample is one sensor's field reading for a cycle.
type Sample struct {
	ID      string
	Reading tlv493d.Reading
}

// AxisValue is one axis entry in the JSON payload. The receiving patch
// indexes by the axis string, so the key names are load-bearing.
type AxisValue struct {
	Axis string  `json:"axis"`
	Val  float64 `json:"val"`
}

type jsonPayload struct {
	Sensor map[string][]AxisValue `json:"Sensor"`
}

// EncodeJSON builds the telemetry datagram: a "Sensor" object keyed by
// sensor ID, each holding x/y/z entries rounded to 3 decimals. The
// object is present even with no samples. Keys marshal sorted, so the
// output is deterministic.
func EncodeJSON(samples []Sample) ([]byte, error) {
	p := jsonPayload{Sensor: make(map[string][]AxisValue, len(samples))}
	for _, s := range samples {
		p.Sensor[s.ID] = []AxisValue{
			{Axis: "x", Val: Round3(s.Reading.X)},
			{Axis: "y", Val: Round3(s.Reading.Y)},
			{Axis: "z", Val: Round3(s.Reading.Z)},
		}
	}
	return json.Marshal(p)
}

// EncodeOSC builds one OSC message per sensor at "<prefix>/<id>" with
// float32 x, y, z arguments. OSC carries the full float precision; the
// 3-decimal rounding is a JSON presentation detail.
func EncodeOSC(prefix string, samples []Sample) ([][]byte, error) {
	packets := make([][]byte, 0, len(samples))
	for _, s := range samples {
		msg := osc.NewMessage(prefix + "/" + s.ID)
		msg.AppendFloat32(float32(s.Reading.X))
		msg.AppendFloat32(float32(s.Reading.Y))
		msg.AppendFloat32(float32(s.Reading.Z))
		b, err := msg.Marshal()
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", s.ID, err)
		}
		packets = append(packets, b)
	}
	return packets, nil
}

// Round3 rounds to 3 decimal places, the resolution the receiving side
// expects for millitesla values.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
