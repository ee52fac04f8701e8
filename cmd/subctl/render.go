package main

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"

	"github.com/chaz8081/submarine-control/internal/submarine"
)

// statusView is the subset of the controller the status table shows.
type statusView interface {
	Name() string
	Status() submarine.Status
	BatteryPercentage() int
	IsConnected() bool
}

func renderStatus(s statusView) string {
	connection := "not connected"
	if s.IsConnected() {
		connection = "connected"
	}

	table := uitable.New()
	table.AddRow("SUBMARINE:", s.Name())
	table.AddRow("CONNECTION:", connection)
	table.AddRow("STATUS:", s.Status())
	table.AddRow("BATTERY:", fmt.Sprintf("%d%%", s.BatteryPercentage()))
	return table.String()
}

func renderDive(d submarine.Dive) string {
	header := uitable.New()
	header.AddRow("DEPTH:", fmt.Sprintf("%dm", d.DepthM))
	header.AddRow("START:", d.StartingTime.Format(time.DateTime))
	header.AddRow("POINTS:", fmt.Sprintf("%d of %d", len(d.Data), d.ExpectedDataCount))

	if len(d.Data) == 0 {
		return header.String()
	}

	points := uitable.New()
	points.AddRow("TIME (ms)", "DEPTH (m)", "TEMP (°C)", "PRESSURE (raw)")
	for _, p := range d.Data {
		points.AddRow(
			p.TimestampMs,
			fmt.Sprintf("%.2f", p.DepthM),
			fmt.Sprintf("%.2f", p.TemperatureC),
			fmt.Sprintf("%.3f", p.PressureBarRaw),
		)
	}
	return header.String() + "\n\n" + points.String()
}
