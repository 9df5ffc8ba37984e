package ui

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rehaani/mediconnect/internal/room"
)

// RoomRow is one line of the room listing.
type RoomRow struct {
	ID               string
	Offer            bool
	Answer           bool
	OfferCandidates  int
	AnswerCandidates int
	Ended            bool
}

// NewRoomRows summarizes room documents keyed by id, sorted by id.
func NewRoomRows(rooms map[string]room.Room) []RoomRow {
	rows := make([]RoomRow, 0, len(rooms))
	for id, r := range rooms {
		rows = append(rows, RoomRow{
			ID:               id,
			Offer:            r.Offer != nil,
			Answer:           r.Answer != nil,
			OfferCandidates:  len(r.OfferCandidates),
			AnswerCandidates: len(r.AnswerCandidates),
			Ended:            r.Ended,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func (r RoomRow) status() string {
	switch {
	case r.Ended:
		return "ending"
	case r.Answer:
		return "in call"
	case r.Offer:
		return "waiting"
	default:
		return "reserved"
	}
}

// RoomsTableView renders the rooms currently in the store.
func RoomsTableView(rows []RoomRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Active rooms")
	t.AppendHeader(table.Row{"Room", "Status", "Offer", "Answer", "Candidates"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.ID,
			r.status(),
			yesNo(r.Offer),
			yesNo(r.Answer),
			fmt.Sprintf("%d / %d", r.OfferCandidates, r.AnswerCandidates),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(rows)})
	return t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
