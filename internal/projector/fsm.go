package projector

import (
	"context"

	"github.com/looplab/fsm"
)

// Connection lifecycle events.
const (
	eventDial      = "dial"      // disconnected -> connecting
	eventEstablish = "establish" // connecting -> connected
	eventDrop      = "drop"      // connected -> connecting
	eventHalt      = "halt"      // any -> disconnected
)

// connectionFSM guards the legal ConnectionState transitions. It is driven
// only from the event loop.
type connectionFSM struct {
	machine *fsm.FSM
}

func newConnectionFSM(onEnter func(from, to ConnectionState)) *connectionFSM {
	events := fsm.Events{
		{Name: eventDial, Src: []string{string(StateDisconnected)}, Dst: string(StateConnecting)},
		{Name: eventEstablish, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
		{Name: eventDrop, Src: []string{string(StateConnected)}, Dst: string(StateConnecting)},
		{Name: eventHalt, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateDisconnected)},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			onEnter(ConnectionState(e.Src), ConnectionState(e.Dst))
		},
	}
	return &connectionFSM{machine: fsm.NewFSM(string(StateDisconnected), events, callbacks)}
}

// fire applies event. Events that are not legal from the current state
// are ignored and reported as false.
func (c *connectionFSM) fire(event string) bool {
	return c.machine.Event(context.Background(), event) == nil
}

func (c *connectionFSM) current() ConnectionState {
	return ConnectionState(c.machine.Current())
}

func (c *connectionFSM) is(state ConnectionState) bool {
	return c.current() == state
}
