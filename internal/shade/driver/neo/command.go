package neo

import (
	"github.com/jkaflik/neo2mqtt/internal/shade"
	"github.com/pkg/errors"
)

const DefaultMotorType = "bf"

// Command is a single protocol frame body, without the line terminator.
type Command string

// NewCommand builds the frame for move. Limit moves carry a "!" between
// the action and the motor type, the favorite move does not.
func NewCommand(code string, move shade.Move, motorType string) (Command, error) {
	if motorType == "" {
		motorType = DefaultMotorType
	}

	switch move {
	case shade.MoveDown:
		return Command(code + "-dn!" + motorType), nil
	case shade.MoveUp:
		return Command(code + "-up!" + motorType), nil
	case shade.MoveFavorite:
		return Command(code + "-gp" + motorType), nil
	}

	return "", errors.Errorf("%s: no command for move %s", code, move)
}

func (c Command) Frame() []byte {
	return []byte(string(c) + "\r")
}
