package recovery

import "fmt"

// StrictStrategy fails on the first error.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every error and asks the caller to carry on.
// Damaged objects are skipped; a dictionary missing its ">>" is closed at endobj.
type LenientStrategy struct {
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] object %d offset %d: %w",
		location.Component, location.ObjectNum, location.ByteOffset, err))
	if location.Component == "loader" {
		return ActionSkip
	}
	return ActionWarn
}
