package market

import "github.com/Checker-Finance/nftmarket/pkg/model"

// journal records undo steps and pending notifications for the call stack
// currently inside the market. A savepoint marks where a call started, so a
// failed nested call unwinds only its own effects while a failed outer call
// unwinds everything, nested effects included.
type journal struct {
	undo   []func()
	events []model.MarketEvent
}

type savepoint struct {
	undo   int
	events int
}

func (j *journal) mark() savepoint {
	return savepoint{undo: len(j.undo), events: len(j.events)}
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) emit(evt model.MarketEvent) {
	j.events = append(j.events, evt)
}

// rollback replays undo steps newer than sp in reverse and drops their events.
func (j *journal) rollback(sp savepoint) {
	for i := len(j.undo) - 1; i >= sp.undo; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:sp.undo]
	j.events = j.events[:sp.events]
}

// reset clears the journal and returns the pending events.
func (j *journal) reset() []model.MarketEvent {
	events := j.events
	j.undo = nil
	j.events = nil
	return events
}
