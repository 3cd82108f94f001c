package model

// Outcome is the result of a reaction entry point that returned no error.
type Outcome int

const (
	// NoMatch means the handler looked at the item and chose not to react.
	NoMatch Outcome = iota
	// Reacted means the handler acted on the item; the item is now deduplicated
	// for that handler.
	Reacted
)

func (o Outcome) String() string {
	switch o {
	case Reacted:
		return "reacted"
	case NoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}
