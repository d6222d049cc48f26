// Package recovery decides how the loader reacts to damaged input.
package recovery

// Strategy is consulted whenever a recoverable parse error occurs.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location identifies where in the file an error was found.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "unknown"
	}
}
