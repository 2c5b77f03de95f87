// Package roster generates the competing agent lineup, either from six
// built-in archetypes or from a single language model call, always passing
// every strategy through the validator so a session can never start with
// an unsafe configuration.
package roster

import (
	"github.com/pr3m/xrparena/internal/strategy"
)

// CommentaryTriggers is the fixed set of moments an agent can speak at
var CommentaryTriggers = []string{
	"on_entry", "on_exit_profit", "on_exit_loss", "on_death", "on_rival_death",
}

// avatarShapes is assigned round-robin by agent index
var avatarShapes = []string{
	"circle", "square", "triangle", "diamond", "hexagon", "star", "pentagon", "cross",
}

// Agent is one validated roster entry
type Agent struct {
	Name        string             `json:"name"`
	Archetype   string             `json:"archetype"`
	Personality string             `json:"personality"`
	AvatarShape string             `json:"avatar_shape"`
	ColorIndex  int                `json:"color_index"`
	Strategy    *strategy.Strategy `json:"strategy"`
	Commentary  map[string]string  `json:"commentary"`
	Report      strategy.Report    `json:"validation_report"`
}

// Roster is a full generated lineup plus generation accounting
type Roster struct {
	Agents           []*Agent `json:"agents"`
	Theme            string   `json:"theme"`
	MasterCommentary string   `json:"master_commentary"`
	InputTokens      int      `json:"input_tokens"`
	OutputTokens     int      `json:"output_tokens"`
	CostUSD          float64  `json:"cost_usd"`
}

// CommentaryFor returns the template for a trigger, falling back to a
// generic line when the roster left it empty
func (a *Agent) CommentaryFor(trigger string) string {
	if line, ok := a.Commentary[trigger]; ok && line != "" {
		return line
	}
	return genericCommentary[trigger]
}

var genericCommentary = map[string]string{
	"on_entry":       "{name} steps into the market.",
	"on_exit_profit": "{name} banks a win.",
	"on_exit_loss":   "{name} takes the hit and moves on.",
	"on_death":       "{name} is out of the game.",
	"on_rival_death": "{name} watches a rival fall.",
}

// assignVisuals fills in the round-robin avatar shape and colour index
func assignVisuals(agents []*Agent) {
	for i, a := range agents {
		a.AvatarShape = avatarShapes[i%len(avatarShapes)]
		a.ColorIndex = i
	}
}
