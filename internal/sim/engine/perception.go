package engine

import (
	"fmt"
	"sort"
	"strings"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

// PerceptionProvider renders what an actor senses at the start of a round.
// Implementations read a consistent store view and must not mutate it.
type PerceptionProvider interface {
	Perceive(a *schema.Actor, store world.Reader, round uint64) string
}

// LocalPerception describes the actor's current location: the place itself,
// who else is there, and where the exits lead.
type LocalPerception struct{}

func (LocalPerception) Perceive(a *schema.Actor, store world.Reader, round uint64) string {
	loc, err := store.LocationOf(a.ID)
	if err != nil {
		return "You are nowhere in particular."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are in %s.", loc.Name)
	if loc.Description != "" {
		fmt.Fprintf(&b, " %s", loc.Description)
	}

	var others []string
	for _, id := range loc.Contained {
		if id == a.ID {
			continue
		}
		rec, err := store.Get(id)
		if err != nil {
			continue
		}
		others = append(others, rec.Base().Name)
	}
	if len(others) > 0 {
		sort.Strings(others)
		fmt.Fprintf(&b, " Also here: %s.", strings.Join(others, ", "))
	}

	if len(loc.Connections) > 0 {
		names := make([]string, 0, len(loc.Connections))
		for name := range loc.Connections {
			names = append(names, name)
		}
		sort.Strings(names)
		var exits []string
		for _, name := range names {
			if dest, err := store.Get(loc.Connections[name]); err == nil {
				exits = append(exits, fmt.Sprintf("%s (to %s)", name, dest.Base().Name))
			} else {
				exits = append(exits, name)
			}
		}
		fmt.Fprintf(&b, " Exits: %s.", strings.Join(exits, ", "))
	}
	return b.String()
}
