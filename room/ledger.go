/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"sort"
)

// Ledger accumulates scores locally. Totals built from round results are
// best-effort; the final table from the server replaces them.
type Ledger struct {
	order  []string
	totals map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{totals: make(map[string]int)}
}

// Track makes id show up in Ranked with a zero score.
func (l *Ledger) Track(id string) {
	if id == "" {
		return
	}
	if _, ok := l.totals[id]; !ok {
		l.order = append(l.order, id)
		l.totals[id] = 0
	}
}

func (l *Ledger) ApplyRoundResult(id string, delta int) {
	l.Track(id)
	l.totals[id] += delta
}

func (l *Ledger) ApplyFinalTable(table []ScoreEntry) {
	l.Reset()
	for _, e := range table {
		l.Track(e.ParticipantID)
		l.totals[e.ParticipantID] = e.Score
	}
}

func (l *Ledger) Total(id string) int {
	return l.totals[id]
}

// Ranked sorts by descending score. Ties keep the order participants were
// first tracked in.
func (l *Ledger) Ranked() []ScoreEntry {
	out := make([]ScoreEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, ScoreEntry{ParticipantID: id, Score: l.totals[id]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}

func (l *Ledger) Reset() {
	l.order = l.order[:0]
	clear(l.totals)
}
