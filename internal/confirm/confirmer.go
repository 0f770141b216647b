// Package confirm defines the boundary to the confirmation-dialog
// collaborator: a blocking predicate the UI shell pops when an Unknown or
// Normal device asks to connect (§4.2). The dialog's implementation is
// external to this module; only the interface and a scripted test double
// live here.
package confirm

// Confirmer presents title/message to the local operator and blocks until
// they accept or reject.
type Confirmer interface {
	Confirm(title, message string) bool
}

// AlwaysDeny is a Confirmer that rejects every prompt. It is the safe
// default for a headless run with no attached UI shell: an Unknown or
// Normal device can never be waved through without a real operator present.
type AlwaysDeny struct{}

func (AlwaysDeny) Confirm(title, message string) bool { return false }

// Scripted is a Confirmer whose answers are supplied in advance, for tests
// that exercise the admission algorithm without a real dialog.
type Scripted struct {
	answers []bool
	calls   []struct{ title, message string }
}

// NewScripted returns a Confirmer that answers each successive Confirm
// call with the next value of answers, in order.
func NewScripted(answers ...bool) *Scripted {
	return &Scripted{answers: answers}
}

func (s *Scripted) Confirm(title, message string) bool {
	s.calls = append(s.calls, struct{ title, message string }{title, message})
	if len(s.answers) == 0 {
		return false
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next
}

// Calls returns the number of Confirm calls seen so far, for assertions.
func (s *Scripted) Calls() int {
	return len(s.calls)
}
