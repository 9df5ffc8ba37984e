package room

import "github.com/rehaani/mediconnect/internal/rtdb"

const Root = "rooms"

// Side names which half of the room a party writes to.
type Side string

const (
	Offer  Side = "offer"
	Answer Side = "answer"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Offer {
		return Answer
	}
	return Offer
}

func Path(id string) string {
	return rtdb.Join(Root, id)
}

// DescriptionPath is where a side publishes its session description.
func DescriptionPath(id string, s Side) string {
	return rtdb.Join(Root, id, string(s))
}

// CandidatesPath is the collection a side publishes its candidates into.
func CandidatesPath(id string, s Side) string {
	return rtdb.Join(Root, id, candidatesField(s))
}

func candidatesField(s Side) string {
	return string(s) + "Candidates"
}

func EndedPath(id string) string {
	return rtdb.Join(Root, id, "ended")
}
