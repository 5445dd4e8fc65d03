package lock

import (
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/cabmeter/internal/pkg/util/fsm"
)

// Action is the lock state of the meter.
type Action string

const (
	NoAction Action = "no_action"
	Locked   Action = "lock"
	Unlocked Action = "unlock"
)

const (
	// EventLock enters the lock episode.
	EventLock = "event_lock"
	// EventUnlock runs the forced unlock sequence.
	EventUnlock = "event_unlock"
	// EventReset closes the episode once the meter is for hire again.
	EventReset = "event_reset"
)

type machine struct {
	*fsm.FSM
}

func newMachine(p *Protocol) *machine {
	m := &machine{}

	events := fsm.Events{
		{Name: EventLock, Src: []string{string(NoAction)}, Dst: string(Locked)},
		{Name: EventUnlock, Src: []string{string(NoAction), string(Locked)}, Dst: string(Unlocked)},
		{Name: EventReset, Src: []string{string(Locked), string(Unlocked)}, Dst: string(NoAction)},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventUnlock: fsmutil.WrapEvent(p.guardUnlock),

		"enter_" + string(Locked):   fsmutil.WrapEvent(p.enterLocked),
		"enter_" + string(Unlocked): fsmutil.WrapEvent(p.enterUnlocked),
		"enter_" + string(NoAction): fsmutil.WrapEvent(p.enterNoAction),
	}

	m.FSM = fsm.NewFSM(string(NoAction), events, callbacks)
	return m
}

func (m *machine) action() Action {
	return Action(m.Current())
}
