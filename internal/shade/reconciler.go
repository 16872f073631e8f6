package shade

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Move is the physical movement a requested target position resolves to.
type Move int

const (
	MoveNone Move = iota
	MoveDown
	MoveUp
	MoveFavorite
)

func (m Move) String() string {
	switch m {
	case MoveDown:
		return "down"
	case MoveUp:
		return "up"
	case MoveFavorite:
		return "favorite"
	default:
		return "none"
	}
}

// Reconciler owns a shade's reported position. It merges commanded
// direction of travel with contact sensor events into a single value.
type Reconciler struct {
	name string

	l     sync.Mutex
	state State

	updateHandler UpdateHandler

	// states waiting for delivery, in mutation order
	pending    []State
	delivering bool
}

func NewReconciler(name string) *Reconciler {
	return &Reconciler{
		name: name,
		state: State{
			CurrentPosition: NeutralPosition,
			TargetPosition:  NeutralPosition,
			Direction:       Stopped,
		},
	}
}

func (r *Reconciler) State() State {
	r.l.Lock()
	defer r.l.Unlock()

	return r.state
}

func (r *Reconciler) OnUpdate(h UpdateHandler) {
	r.l.Lock()
	r.updateHandler = h
	r.l.Unlock()
}

// RequestMove resolves target into a move and records the direction of
// travel. Targets other than fully closed, fully open and the favorite
// band (24-26) resolve to MoveNone and leave the state untouched.
func (r *Reconciler) RequestMove(target int) Move {
	r.l.Lock()

	var move Move
	switch target {
	case FullClosePosition:
		move = MoveDown
		r.state.Direction = Decreasing
		r.state.TargetPosition = FullClosePosition
	case FullOpenPosition:
		move = MoveUp
		r.state.Direction = Increasing
		r.state.TargetPosition = FullOpenPosition
	case FavoritePosition - 1, FavoritePosition, FavoritePosition + 1:
		move = MoveFavorite
		if r.state.CurrentPosition > FavoritePosition {
			r.state.Direction = Decreasing
		} else {
			r.state.Direction = Increasing
		}
		r.state.TargetPosition = FavoritePosition
	default:
		r.l.Unlock()
		logrus.Debugf("%s: target %d ignored, only %d, %d and %d (favorite) are supported", r.name, target, FullClosePosition, FullOpenPosition, FavoritePosition)
		return MoveNone
	}

	logrus.Debugf("%s: move %s, direction %s", r.name, move, r.state.Direction)
	r.unlockAndNotify()

	return move
}

// Settle marks the end of a move. Without position sensors the position is
// unknown afterwards, so neutralize parks it at the midpoint.
func (r *Reconciler) Settle(neutralize bool) {
	r.l.Lock()
	r.state.Direction = Stopped
	if neutralize {
		r.state.CurrentPosition = NeutralPosition
		r.state.TargetPosition = NeutralPosition
	}
	logrus.Debugf("%s: settled at %g", r.name, r.state.CurrentPosition)
	r.unlockAndNotify()
}

// Neutralize parks current and target position at the midpoint without
// touching the direction of travel.
func (r *Reconciler) Neutralize() {
	r.l.Lock()
	r.state.CurrentPosition = NeutralPosition
	r.state.TargetPosition = NeutralPosition
	r.unlockAndNotify()
}

// OnSensorEvent applies a contact reading from the sensor at reference.
// step is the distance between two neighbouring sensors.
//
// A closed contact is ground truth. An open contact only matters when the
// shade was believed to sit exactly on that sensor: the position then moves
// half a step in the direction of travel. While stopped it is left alone.
func (r *Reconciler) OnSensorEvent(reference, step float64, closed bool) {
	r.l.Lock()

	if closed {
		r.state.CurrentPosition = reference
		logrus.Debugf("%s: contact at %g", r.name, reference)
		r.unlockAndNotify()
		return
	}

	if r.state.CurrentPosition != reference {
		r.l.Unlock()
		return
	}

	var position float64
	switch r.state.Direction {
	case Increasing:
		position = reference + step/2
	case Decreasing:
		position = reference - step/2
	default:
		r.l.Unlock()
		logrus.Debugf("%s: contact at %g released while stopped, position unchanged", r.name, reference)
		return
	}

	if position < FullClosePosition || position > FullOpenPosition {
		logrus.Warnf("%s: sensor at %g released while %s, estimate %g out of range, clamped", r.name, reference, r.state.Direction, position)
		position = clamp(position)
	}

	r.state.CurrentPosition = position
	logrus.Debugf("%s: left contact at %g, estimate %g", r.name, reference, position)
	r.unlockAndNotify()
}

// unlockAndNotify queues the current state for delivery and releases the
// lock. One caller at a time delivers, draining the queue in order, so the
// handler sees states in the order they were made. Other callers return
// without waiting for a slow handler.
func (r *Reconciler) unlockAndNotify() {
	if r.updateHandler == nil {
		r.l.Unlock()
		return
	}

	r.pending = append(r.pending, r.state)
	if r.delivering {
		r.l.Unlock()
		return
	}
	r.delivering = true

	for len(r.pending) > 0 {
		states := r.pending
		r.pending = nil
		h := r.updateHandler
		r.l.Unlock()

		for _, state := range states {
			h(state)
		}

		r.l.Lock()
	}

	r.delivering = false
	r.l.Unlock()
}

func clamp(position float64) float64 {
	if position < FullClosePosition {
		return FullClosePosition
	}
	if position > FullOpenPosition {
		return FullOpenPosition
	}

	return position
}
