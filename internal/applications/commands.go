package applications

import "github.com/haulhub/backend/internal/apperr"

// Command is a client action on an application. Each variant owns its own transition.
type Command interface {
	action() string
}

type StartChat struct{}

type Hire struct{}

type Reject struct{}

func (StartChat) action() string { return "chat" }
func (Hire) action() string      { return "hire" }
func (Reject) action() string    { return "reject" }

// ParseCommand maps the wire action onto its command.
func ParseCommand(action string) (Command, error) {
	switch action {
	case "chat":
		return StartChat{}, nil
	case "hire":
		return Hire{}, nil
	case "reject":
		return Reject{}, nil
	}
	return nil, apperr.Validation("unknown action %q", action)
}
