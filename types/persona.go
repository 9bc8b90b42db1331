package types

import (
	"fmt"
	"strings"
)

// PersonaType identifies a boardroom participant.
type PersonaType string

const (
	// PersonaNone 表示当前没有发言者
	PersonaNone PersonaType = ""

	PersonaFastThinker       PersonaType = "system1"
	PersonaAnalyticalThinker PersonaType = "system2"
	PersonaModerator         PersonaType = "moderator"
	PersonaDevilsAdvocate    PersonaType = "devilsAdvocate"

	// PersonaUser marks human-authored messages. Never chosen by a speaker policy.
	PersonaUser PersonaType = "user"
)

var autonomousPersonas = []PersonaType{
	PersonaFastThinker,
	PersonaAnalyticalThinker,
	PersonaModerator,
	PersonaDevilsAdvocate,
}

// AutonomousPersonas returns the AI personas in display order.
func AutonomousPersonas() []PersonaType {
	out := make([]PersonaType, len(autonomousPersonas))
	copy(out, autonomousPersonas)
	return out
}

// IsAutonomous reports whether p is one of the AI personas.
func (p PersonaType) IsAutonomous() bool {
	for _, a := range autonomousPersonas {
		if p == a {
			return true
		}
	}
	return false
}

// Valid reports whether p is an AI persona or the user sentinel.
func (p PersonaType) Valid() bool {
	return p == PersonaUser || p.IsAutonomous()
}

func (p PersonaType) String() string {
	if p == PersonaNone {
		return "none"
	}
	return string(p)
}

// ParsePersona accepts wire values case-insensitively plus a few aliases.
func ParsePersona(s string) (PersonaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system1", "system-1", "fast", "fast-thinker":
		return PersonaFastThinker, nil
	case "system2", "system-2", "analytical", "analytical-thinker":
		return PersonaAnalyticalThinker, nil
	case "moderator":
		return PersonaModerator, nil
	case "devilsadvocate", "devils-advocate", "devil":
		return PersonaDevilsAdvocate, nil
	case "user":
		return PersonaUser, nil
	default:
		return PersonaNone, NewError(ErrInvalidRequest, fmt.Sprintf("unknown persona %q", s))
	}
}

// PersonaDetails is the display metadata of a persona.
type PersonaDetails struct {
	Type        PersonaType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
}

var personaDetails = map[PersonaType]PersonaDetails{
	PersonaFastThinker: {
		Type:        PersonaFastThinker,
		Name:        "System-1 Thinker",
		Description: "Fast, intuitive, emotional thinking",
	},
	PersonaAnalyticalThinker: {
		Type:        PersonaAnalyticalThinker,
		Name:        "System-2 Thinker",
		Description: "Slow, deliberate, analytical thinking",
	},
	PersonaModerator: {
		Type:        PersonaModerator,
		Name:        "Moderator",
		Description: "Neutral facilitator and synthesizer",
	},
	PersonaDevilsAdvocate: {
		Type:        PersonaDevilsAdvocate,
		Name:        "Devil's Advocate",
		Description: "Challenges assumptions and identifies risks",
	},
	PersonaUser: {
		Type:        PersonaUser,
		Name:        "You",
		Description: "Human participant",
	},
}

// PersonaInfo returns display metadata for p. Unknown personas get their raw value as name.
func PersonaInfo(p PersonaType) PersonaDetails {
	if d, ok := personaDetails[p]; ok {
		return d
	}
	return PersonaDetails{Type: p, Name: string(p)}
}
