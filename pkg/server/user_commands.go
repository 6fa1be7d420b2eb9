package server

import (
	"strings"

	"github.com/gaia-mud/gaia/pkg/input"
)

// dispatchUser handles the fixed User-mode keyword set.
func (g *Game) dispatchUser(d *Descriptor, rec *input.Recognition) {
	switch rec.Verb {
	case "who":
		d.Send(g.whoReport())

	case "quit":
		d.Send("Goodbye!")
		d.Close()

	case "connect":
		// Post-auth the only accepted form is `connect character <name>`.
		if len(rec.Args) >= 2 && strings.EqualFold(rec.Args[0], "character") {
			g.embody(d, strings.Join(rec.Args[1:], " "))
			return
		}
		if d.State() == ConnAuthenticated {
			d.Send("Usage: connect character <name>")
			return
		}
		d.Send("You are already connected.")

	case "commands":
		d.Send(g.commandsReport(d))
	}
}

// commandsReport lists what this session can type: user keywords, game
// verbs when embodied, and the admin table for admins.
func (g *Game) commandsReport(d *Descriptor) string {
	var sb strings.Builder
	sb.WriteString("User commands: " + strings.Join(g.Pipeline.User.Keywords(), ", "))
	if d.State() == ConnEmbodied {
		sb.WriteString("\nGame verbs: " + strings.Join(g.Pipeline.Game.Verbs(), ", "))
	}
	if d.IsAdmin() {
		sb.WriteString("\nAdmin commands: /" + strings.Join(g.Pipeline.Admin.Commands(), ", /"))
	}
	return sb.String()
}
