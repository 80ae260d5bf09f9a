package shortlink

import "fmt"

// Outcome is the kind of a resolved short code.
type Outcome uint8

const (
	OutcomeDestination Outcome = iota + 1
	OutcomeNotFound
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDestination:
		return "destination"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExpired:
		return "expired"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Resolution is what a short code resolved to. URL is only set for
// OutcomeDestination.
type Resolution struct {
	Outcome Outcome
	URL     string
}

func Destination(url string) Resolution {
	return Resolution{Outcome: OutcomeDestination, URL: url}
}

func NotFound() Resolution {
	return Resolution{Outcome: OutcomeNotFound}
}

func Expired() Resolution {
	return Resolution{Outcome: OutcomeExpired}
}
