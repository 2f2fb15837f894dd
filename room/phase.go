/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"time"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseIntro     Phase = "intro"
	PhaseKeyword   Phase = "keyword"
	PhaseRecord    Phase = "record"
	PhaseListen    Phase = "listen"
	PhasePlaying   Phase = "playing"
	PhaseResult    Phase = "result"
	PhaseFinal     Phase = "final"
)

// rank orders phases within one round cycle. listen and playing share a slot
// since each mode only ever uses one of them.
func (p Phase) rank() int {
	switch p {
	case PhaseWaiting:
		return 0
	case PhaseCountdown:
		return 1
	case PhaseIntro:
		return 2
	case PhaseKeyword:
		return 3
	case PhaseRecord:
		return 4
	case PhaseListen, PhasePlaying:
		return 5
	case PhaseResult:
		return 6
	case PhaseFinal:
		return 7
	default:
		return -1
	}
}

// InGame reports whether the phase expects a follow-up event from the server.
func (p Phase) InGame() bool {
	return p != "" && p != PhaseWaiting && p != PhaseFinal
}

// Round is replaced as a whole on every round-bearing event.
type Round struct {
	Index     int       `json:"round"`
	MaxRounds int       `json:"max_rounds"`
	Song      *Song     `json:"song,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	Turn      string    `json:"turn,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type Result struct {
	Round         int     `json:"round"`
	Outcome       Outcome `json:"outcome"`
	ParticipantID string  `json:"participant_id,omitempty"`
	Delta         int     `json:"delta"`
	Matched       Song    `json:"matched"`
}

// Stage is the active phase plus everything that came with the event that
// entered it.
type Stage struct {
	Phase     Phase         `json:"phase"`
	Round     Round         `json:"round"`
	Duration  time.Duration `json:"duration"`
	Deadline  time.Time     `json:"deadline,omitzero"`
	EnteredAt time.Time     `json:"entered_at"`
	Clip      *Clip         `json:"clip,omitempty"`
	Result    *Result       `json:"result,omitempty"`
	Final     []ScoreEntry  `json:"final,omitempty"`
}

type Transition struct {
	From Phase
	To   Phase

	// Regressed is set when the server moved the phase backwards outside of
	// the result -> next round loop. The move is applied anyway.
	Regressed bool

	// Capture asks the local player to record; Playback asks it to play Clip.
	Capture  bool
	Playback bool
}

// Machine tracks the phase of one room. It is not safe for concurrent use.
type Machine struct {
	mode  Mode
	local string
	stage Stage
	now   func() time.Time
}

func NewMachine(mode Mode, localID string) *Machine {
	m := &Machine{
		mode:  mode,
		local: localID,
		now:   time.Now,
	}
	m.stage = Stage{Phase: PhaseWaiting, EnteredAt: m.now()}
	return m
}

func (m *Machine) SetMode(mode Mode) {
	m.mode = mode
}

func (m *Machine) Mode() Mode {
	return m.mode
}

func (m *Machine) Phase() Phase {
	return m.stage.Phase
}

func (m *Machine) Stage() Stage {
	return m.stage
}

// Apply feeds one event to the machine. The boolean is false when the event
// does not bear a transition, or when the game already ended.
func (m *Machine) Apply(ev Event) (Transition, bool) {
	from := m.stage.Phase
	now := m.now()

	if state, ok := ev.(StateEvent); ok {
		next := Stage{Phase: state.Phase, EnteredAt: now, Round: m.stage.Round}
		if state.Round != nil {
			next.Round = *state.Round
		}
		m.stage = next
		return Transition{From: from, To: next.Phase}, true
	}

	if from == PhaseFinal {
		return Transition{}, false
	}

	var (
		next Stage
		tr   Transition
	)

	switch e := ev.(type) {
	case CountdownEvent:
		next = m.timed(PhaseCountdown, m.stage.Round, e.DurationMS, now)

	case IntroEvent:
		next = m.timed(PhaseIntro, Round{
			Index:     e.Round,
			MaxRounds: e.MaxRounds,
			StartedAt: now,
		}, 0, now)

	case RoundStartEvent:
		song := e.Song
		next = m.timed(PhasePlaying, Round{
			Index:     e.Round,
			MaxRounds: e.MaxRounds,
			Song:      &song,
			StartedAt: now,
		}, e.DurationMS, now)

	case KeywordEvent:
		round := Round{
			Index:     e.Round,
			MaxRounds: e.MaxRounds,
			Keyword:   e.Keyword,
			Turn:      e.Turn,
			StartedAt: now,
		}
		if round.Index == 0 {
			round.Index = m.stage.Round.Index
		}
		if round.MaxRounds == 0 {
			round.MaxRounds = m.stage.Round.MaxRounds
		}
		next = m.timed(PhaseKeyword, round, e.DurationMS, now)

	case RecordEvent:
		round := m.stage.Round
		round.Turn = e.Turn
		next = m.timed(PhaseRecord, round, e.DurationMS, now)
		tr.Capture = m.local != "" && e.Turn == m.local

	case ListenEvent:
		next = m.timed(PhaseListen, m.stage.Round, 0, now)
		next.Clip = &Clip{
			Data: e.Audio,
			Mime: e.Mime,
			Turn: e.Turn,
			Size: len(e.Audio),
		}
		tr.Playback = true

	case RoundResultEvent:
		next = m.resulted(&Result{
			Round:         e.Round,
			Outcome:       e.Outcome,
			ParticipantID: e.ParticipantID,
			Delta:         e.Delta,
			Matched:       e.Matched,
		}, now)

	case RoundFailedEvent:
		next = m.resulted(&Result{
			Round:   e.Round,
			Outcome: OutcomeFailed,
			Matched: e.Answer,
		}, now)

	case GameEndEvent:
		next = Stage{
			Phase:     PhaseFinal,
			Round:     m.stage.Round,
			EnteredAt: now,
			Final:     append([]ScoreEntry(nil), e.Table...),
		}

	default:
		return Transition{}, false
	}

	m.stage = next
	tr.From = from
	tr.To = next.Phase
	tr.Regressed = regressed(from, next.Phase)

	return tr, true
}

func (m *Machine) timed(phase Phase, round Round, durationMS int64, now time.Time) Stage {
	s := Stage{
		Phase:     phase,
		Round:     round,
		EnteredAt: now,
	}
	if durationMS > 0 {
		s.Duration = time.Duration(durationMS) * time.Millisecond
		s.Deadline = now.Add(s.Duration)
	}
	return s
}

// resulted keeps quiz rooms in playing, since that mode never shows a
// separate result phase between songs.
func (m *Machine) resulted(res *Result, now time.Time) Stage {
	if res.Round == 0 {
		res.Round = m.stage.Round.Index
	}

	if m.mode == ModeQuiz && m.stage.Phase == PhasePlaying {
		s := m.stage
		s.Result = res
		return s
	}

	return Stage{
		Phase:     PhaseResult,
		Round:     m.stage.Round,
		EnteredAt: now,
		Result:    res,
	}
}

func regressed(from, to Phase) bool {
	if to.rank() >= from.rank() {
		return false
	}
	if from == PhaseResult {
		switch to {
		case PhaseIntro, PhaseKeyword, PhaseRecord, PhasePlaying:
			return false
		}
	}
	return true
}
