package events

import (
	"fmt"

	"spudbot/internal/calendar"
	"spudbot/internal/schedule"
)

// EntryFor renders the calendar entry for w. Names are unique per kind and
// sequence so they double as the collision key before creating.
func EntryFor(w schedule.Window) calendar.Entry {
	e := calendar.Entry{Start: w.Start.UTC(), End: w.End.UTC()}
	switch w.Kind {
	case schedule.KindEpoch:
		e.Name = fmt.Sprintf("Epoch %d Start", w.Seq)
		e.Description = fmt.Sprintf("Epoch %d will start at this time.", w.Seq)
	case schedule.KindSubcycle:
		e.Name = fmt.Sprintf("PoET Cycle %d Start", w.Seq)
		e.Description = fmt.Sprintf("PoET cycle %d will start at this time.", w.Seq)
	case schedule.KindGap:
		e.Name = fmt.Sprintf("Cycle Gap %d", w.Seq)
		e.Description = "The cycle gap will occur during this time."
	default:
		e.Name = fmt.Sprintf("%s %d", w.Kind, w.Seq)
	}
	return e
}
