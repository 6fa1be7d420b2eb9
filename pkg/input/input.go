// Package input implements the layered line parser: a session-state
// dependent stack of recognizers (Admin, User, Game) and the binder that
// maps a recognition to a command attribute on some world object.
package input

import "strings"

// Mode identifies which recognizer produced a recognition.
type Mode int

const (
	ModeUser Mode = iota
	ModeAdmin
	ModeGame
)

func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "user"
	case ModeAdmin:
		return "admin"
	case ModeGame:
		return "game"
	}
	return "unknown"
}

// Recognition is the parsed form of one input line.
type Recognition struct {
	Mode Mode
	Verb string
	Args []string
	Raw  string

	// Game mode: object IDs resolved from the noun phrases.
	Direct   string
	Prep     string
	Indirect string
}

// Outcome is the result of running a line through a recognizer. Exactly
// one of the fields is meaningful: Rec on success, Ambiguous when the
// recognizer needs the player to pick between candidates, neither when
// the line was not recognized.
type Outcome struct {
	Rec       *Recognition
	Ambiguous []string
}

func (o Outcome) Recognized() bool { return o.Rec != nil || len(o.Ambiguous) > 0 }

// Recognizer is pure on the line; world state is consulted only through
// the interfaces each implementation carries.
type Recognizer interface {
	Recognize(line, actorID string) Outcome
}

// Pipeline owns the three recognizers and applies the state-dependent
// stack ordering.
type Pipeline struct {
	Admin *AdminRecognizer
	User  *UserRecognizer
	Game  *GameRecognizer
}

// NewPipeline builds a pipeline over the given world view.
func NewPipeline(view WorldView) *Pipeline {
	return &Pipeline{
		Admin: NewAdminRecognizer(),
		User:  NewUserRecognizer(),
		Game:  NewGameRecognizer(view),
	}
}

// Stack returns the recognizers to try, in order, for a session with the
// given privileges and embodiment.
func (p *Pipeline) Stack(admin, embodied bool) []Recognizer {
	switch {
	case admin && embodied:
		return []Recognizer{p.Admin, p.User, p.Game}
	case admin:
		return []Recognizer{p.Admin, p.User}
	case embodied:
		return []Recognizer{p.User, p.Game}
	}
	return []Recognizer{p.User}
}

// Process runs the line through the stack; the first recognizer to claim
// it wins.
func (p *Pipeline) Process(line, actorID string, admin, embodied bool) Outcome {
	line = strings.TrimSpace(line)
	if line == "" {
		return Outcome{}
	}
	for _, r := range p.Stack(admin, embodied) {
		if out := r.Recognize(line, actorID); out.Recognized() {
			return out
		}
	}
	return Outcome{}
}

// fields splits on runs of whitespace.
func fields(s string) []string {
	return strings.Fields(s)
}
