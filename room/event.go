/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Kind is the wire tag of an inbound event.
type Kind string

const (
	KindRoster      Kind = "roster"
	KindEnter       Kind = "enter"
	KindLeave       Kind = "leave"
	KindCountdown   Kind = "countdown"
	KindIntro       Kind = "intro"
	KindRoundStart  Kind = "round_start"
	KindKeyword     Kind = "keyword"
	KindRecord      Kind = "record"
	KindListen      Kind = "listen"
	KindRoundResult Kind = "round_result"
	KindRoundFailed Kind = "round_failed"
	KindGameEnd     Kind = "game_end"
	KindChat        Kind = "chat"
	KindSystem      Kind = "system"
	KindState       Kind = "room_state"
)

// Mode is the game variant a room is played in.
type Mode string

const (
	// ModeQuiz plays a song per round and everyone races to name it.
	ModeQuiz Mode = "quiz"
	// ModeSing hands one player a keyword per turn; they record, the rest guess.
	ModeSing Mode = "sing"
)

type Outcome string

const (
	OutcomeMatch  Outcome = "match"
	OutcomeMiss   Outcome = "miss"
	OutcomeFailed Outcome = "failed"
)

// Event is one decoded server frame. The concrete types below are the only
// implementations.
type Event interface {
	Kind() Kind
}

// Info describes a room as the server reports it.
type Info struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity" validate:"gte=0"`
	Mode     Mode   `json:"mode,omitempty" validate:"omitempty,oneof=quiz sing"`
	HostID   string `json:"host_id,omitempty"`
	Phase    Phase  `json:"phase,omitempty"`
}

type Participant struct {
	ID        string `json:"id" validate:"required"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar,omitempty"`
	Host      bool   `json:"host"`
	Ready     bool   `json:"ready"`
	MicReady  bool   `json:"mic_ready"`
	SessionID string `json:"session_id,omitempty"`
}

type Song struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Hint   string `json:"hint,omitempty"`
	URL    string `json:"url,omitempty" validate:"omitempty,url"`
}

type ScoreEntry struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Score         int    `json:"score"`
}

type RosterEvent struct {
	Room         *Info         `json:"room,omitempty"`
	Participants []Participant `json:"participants" validate:"dive"`
}

type EnterEvent struct {
	Participant Participant `json:"participant"`
	TS          int64       `json:"ts,omitempty"`
}

type LeaveEvent struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Nickname      string `json:"nickname,omitempty"`
	TS            int64  `json:"ts,omitempty"`
}

type CountdownEvent struct {
	DurationMS int64 `json:"duration_ms" validate:"gte=0"`
}

type IntroEvent struct {
	Round     int `json:"round" validate:"gte=1"`
	MaxRounds int `json:"max_rounds" validate:"gte=0"`
}

type RoundStartEvent struct {
	Round      int   `json:"round" validate:"gte=1"`
	MaxRounds  int   `json:"max_rounds" validate:"gte=0"`
	Song       Song  `json:"song"`
	DurationMS int64 `json:"duration_ms" validate:"gte=0"`
}

type KeywordEvent struct {
	Round      int    `json:"round" validate:"gte=0"`
	MaxRounds  int    `json:"max_rounds" validate:"gte=0"`
	Keyword    string `json:"keyword" validate:"required"`
	Turn       string `json:"turn" validate:"required"`
	DurationMS int64  `json:"duration_ms" validate:"gte=0"`
}

type RecordEvent struct {
	Turn       string `json:"turn" validate:"required"`
	DurationMS int64  `json:"duration_ms" validate:"gt=0"`
}

type ListenEvent struct {
	Turn  string `json:"turn,omitempty"`
	Audio []byte `json:"audio" validate:"min=1"`
	Mime  string `json:"mime" validate:"required"`
}

type RoundResultEvent struct {
	Round         int     `json:"round" validate:"gte=0"`
	Outcome       Outcome `json:"outcome" validate:"required,oneof=match miss"`
	ParticipantID string  `json:"participant_id" validate:"required_if=Outcome match"`
	Delta         int     `json:"delta" validate:"gte=0"`
	Matched       Song    `json:"matched"`
}

type RoundFailedEvent struct {
	Round  int  `json:"round" validate:"gte=0"`
	Answer Song `json:"answer"`
}

type GameEndEvent struct {
	Table []ScoreEntry `json:"table" validate:"dive"`
}

type ChatEvent struct {
	SenderID string `json:"sender_id" validate:"required"`
	Sender   string `json:"sender"`
	Text     string `json:"text" validate:"required"`
	TS       int64  `json:"ts,omitempty"`
}

type SystemEvent struct {
	Text string `json:"text" validate:"required"`
	TS   int64  `json:"ts,omitempty"`
}

// StateEvent is a full resync of the room, sent on request_sync or whenever
// the server decides a client needs it.
type StateEvent struct {
	Phase        Phase         `json:"phase" validate:"required,oneof=waiting countdown intro keyword record listen playing result final"`
	Room         *Info         `json:"room,omitempty"`
	Round        *Round        `json:"round,omitempty"`
	Participants []Participant `json:"participants" validate:"dive"`
	Scores       []ScoreEntry  `json:"scores" validate:"dive"`
}

func (RosterEvent) Kind() Kind      { return KindRoster }
func (EnterEvent) Kind() Kind       { return KindEnter }
func (LeaveEvent) Kind() Kind       { return KindLeave }
func (CountdownEvent) Kind() Kind   { return KindCountdown }
func (IntroEvent) Kind() Kind       { return KindIntro }
func (RoundStartEvent) Kind() Kind  { return KindRoundStart }
func (KeywordEvent) Kind() Kind     { return KindKeyword }
func (RecordEvent) Kind() Kind      { return KindRecord }
func (ListenEvent) Kind() Kind      { return KindListen }
func (RoundResultEvent) Kind() Kind { return KindRoundResult }
func (RoundFailedEvent) Kind() Kind { return KindRoundFailed }
func (GameEndEvent) Kind() Kind     { return KindGameEnd }
func (ChatEvent) Kind() Kind        { return KindChat }
func (SystemEvent) Kind() Kind      { return KindSystem }
func (StateEvent) Kind() Kind       { return KindState }

var validate = validator.New(validator.WithRequiredStructEnabled())

type frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var decoders = map[Kind]func(json.RawMessage) (Event, error){
	KindRoster:      decodeAs[RosterEvent],
	KindEnter:       decodeAs[EnterEvent],
	KindLeave:       decodeAs[LeaveEvent],
	KindCountdown:   decodeAs[CountdownEvent],
	KindIntro:       decodeAs[IntroEvent],
	KindRoundStart:  decodeAs[RoundStartEvent],
	KindKeyword:     decodeAs[KeywordEvent],
	KindRecord:      decodeAs[RecordEvent],
	KindListen:      decodeAs[ListenEvent],
	KindRoundResult: decodeAs[RoundResultEvent],
	KindRoundFailed: decodeAs[RoundFailedEvent],
	KindGameEnd:     decodeAs[GameEndEvent],
	KindChat:        decodeAs[ChatEvent],
	KindSystem:      decodeAs[SystemEvent],
	KindState:       decodeAs[StateEvent],
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var ev T
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	if err := validate.Struct(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Decode parses and validates one inbound frame.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	decode, ok := decoders[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}

	ev, err := decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Type, err)
	}

	return ev, nil
}

func unixMilli(ts int64, now time.Time) time.Time {
	if ts <= 0 {
		return now
	}
	return time.UnixMilli(ts)
}
