package submarine

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/chaz8081/submarine-control/internal/protocol"
)

// Status is the dive status of the submarine.
type Status string

const (
	Available     Status = "AVAILABLE"
	DiveScheduled Status = "DIVE_SCHEDULED"
	Diving        Status = "DIVING"
)

func (s Status) String() string { return string(s) }

const (
	// eventDive schedules a dive.
	eventDive = "dive"
	// eventCancel cancels a scheduled dive.
	eventCancel = "cancel"
	// eventExpire marks the scheduled dive as started.
	eventExpire = "expire"
)

// newStatusMachine builds the locally driven transitions. Status reports from
// the submarine bypass the events and set the state directly.
func newStatusMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(Available),
		fsm.Events{
			{Name: eventDive, Src: []string{string(Available)}, Dst: string(DiveScheduled)},
			{Name: eventCancel, Src: []string{string(DiveScheduled)}, Dst: string(Available)},
			{Name: eventExpire, Src: []string{string(Available), string(DiveScheduled)}, Dst: string(Diving)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Info("[SUB] status changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// statusFromReport maps a reported status onto Status. Unknown values are
// rejected.
func statusFromReport(t protocol.StatusType) (Status, bool) {
	switch t {
	case protocol.StatusAvailable:
		return Available, true
	case protocol.StatusDiveScheduled:
		return DiveScheduled, true
	case protocol.StatusDiving:
		return Diving, true
	default:
		return "", false
	}
}
