package submarine

import (
	"time"

	"github.com/chaz8081/submarine-control/internal/protocol"
)

// Datum is one measurement taken by the submarine during a dive.
type Datum struct {
	DepthM         float64
	TemperatureC   float64
	PressureBarRaw float64 // raw sensor reading, not calibrated
	TimestampMs    int64
}

// Dive is one dive issued to the submarine together with the data it
// reported back.
type Dive struct {
	DepthM       int
	OffsetS      int
	StartingTime time.Time // issue time plus OffsetS
	Data         []Datum
	// ExpectedDataCount is the number of points in the last telemetry
	// frame applied to this dive.
	ExpectedDataCount int
}

// Synthesized when telemetry arrives before any dive was issued.
const (
	fallbackDepthM  = 10
	fallbackOffsetS = 0
)

func newDive(depthM, offsetS int, now time.Time) *Dive {
	return &Dive{
		DepthM:       depthM,
		OffsetS:      offsetS,
		StartingTime: now.Add(time.Duration(offsetS) * time.Second),
	}
}

// setData replaces the dive's data wholesale.
func (d *Dive) setData(data []protocol.Datum) {
	d.Data = make([]Datum, 0, len(data))
	for _, p := range data {
		d.Data = append(d.Data, Datum{
			DepthM:         p.Depth,
			TemperatureC:   p.Temperature,
			PressureBarRaw: p.Pressure,
			TimestampMs:    int64(p.Timestamp),
		})
	}
	d.ExpectedDataCount = len(data)
}

func (d *Dive) clone() Dive {
	c := *d
	c.Data = append([]Datum(nil), d.Data...)
	return c
}
