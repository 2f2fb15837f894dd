/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CommandKind is the wire tag of a client-originated frame.
type CommandKind string

const (
	CmdJoinRoom        CommandKind = "join_room"
	CmdLeaveRoom       CommandKind = "leave_room"
	CmdToggleReady     CommandKind = "toggle_ready"
	CmdMicReady        CommandKind = "mic_ready"
	CmdStartGame       CommandKind = "start_game"
	CmdSubmitRecording CommandKind = "submit_recording"
	CmdChat            CommandKind = "chat"
	CmdAnswer          CommandKind = "answer"
	CmdKeywordConfirm  CommandKind = "keyword_confirm"
	CmdRequestSync     CommandKind = "request_sync"
)

type Command struct {
	Type    CommandKind `json:"type"`
	MsgID   string      `json:"msg_id"`
	Payload any         `json:"payload,omitempty"`
}

type JoinPayload struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	SessionID     string `json:"session_id"`
}

// LeavePayload names the session it ends so a server can ignore a stale
// leave that arrives after the same participant rejoined.
type LeavePayload struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	SessionID     string `json:"session_id"`
}

type ReadyPayload struct {
	Ready bool `json:"ready"`
}

type RecordingPayload struct {
	Round   int    `json:"round"`
	Turn    string `json:"turn"`
	Keyword string `json:"keyword,omitempty"`
	Mime    string `json:"mime"`
	Audio   []byte `json:"audio"`
}

type TextPayload struct {
	Round int    `json:"round,omitempty"`
	Text  string `json:"text"`
}

type KeywordPayload struct {
	Keyword string `json:"keyword"`
}

type SyncPayload struct {
	Phase Phase `json:"phase"`
	Round int   `json:"round"`
}

func newCommand(kind CommandKind, payload any) Command {
	return Command{
		Type:    kind,
		MsgID:   uuid.NewString(),
		Payload: payload,
	}
}

func (c Command) encode() ([]byte, error) {
	return json.Marshal(c)
}
