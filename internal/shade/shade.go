package shade

import (
	"context"
)

const (
	ShadeOpenState    = "open"
	ShadeClosedState  = "closed"
	ShadeOpeningState = "opening"
	ShadeClosingState = "closing"
)

const (
	FullClosePosition = 0
	FullOpenPosition  = 100
	FavoritePosition  = 25
	NeutralPosition   = 50
)

type Direction int

const (
	Stopped Direction = iota
	Increasing
	Decreasing
)

func (d Direction) String() string {
	switch d {
	case Increasing:
		return "increasing"
	case Decreasing:
		return "decreasing"
	default:
		return "stopped"
	}
}

// State is a point-in-time copy of a shade's position values.
type State struct {
	CurrentPosition float64
	TargetPosition  float64
	Direction       Direction
}

// Name maps the direction of travel and the current position onto the
// open/closed/opening/closing vocabulary used by cover consumers.
func (s State) Name() string {
	switch s.Direction {
	case Increasing:
		return ShadeOpeningState
	case Decreasing:
		return ShadeClosingState
	}

	if s.CurrentPosition <= FullClosePosition {
		return ShadeClosedState
	}

	return ShadeOpenState
}

type UpdateHandler func(state State)

type Shade interface {
	Name() string
	Code() string

	State() State

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Favorite(ctx context.Context) error
	Stop(ctx context.Context) error
	SetTargetPosition(ctx context.Context, position int) error
}
