/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyMessage = errors.New("message is empty")

type EntryKind string

const (
	EntryTalk   EntryKind = "talk"
	EntrySystem EntryKind = "system"
	EntryEnter  EntryKind = "enter"
	EntryLeave  EntryKind = "leave"
)

type ChatEntry struct {
	Kind     EntryKind `json:"kind"`
	SenderID string    `json:"sender_id,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Sender delivers a command to the server.
type Sender interface {
	Send(cmd Command) error
}

type senderFunc func(Command) error

func (f senderFunc) Send(cmd Command) error { return f(cmd) }

// Chat is the append-only log of talk and presence lines for one room.
// Outbound talk is never appended locally; it shows up once the server
// echoes it back.
type Chat struct {
	out     Sender
	entries []ChatEntry
	now     func() time.Time
}

func NewChat(out Sender) *Chat {
	return &Chat{out: out, now: time.Now}
}

func (c *Chat) Receive(ev Event) (ChatEntry, bool) {
	now := c.now()

	var entry ChatEntry
	switch e := ev.(type) {
	case ChatEvent:
		entry = ChatEntry{
			Kind:     EntryTalk,
			SenderID: e.SenderID,
			Sender:   e.Sender,
			Text:     e.Text,
			At:       unixMilli(e.TS, now),
		}
	case SystemEvent:
		entry = ChatEntry{
			Kind: EntrySystem,
			Text: e.Text,
			At:   unixMilli(e.TS, now),
		}
	case EnterEvent:
		entry = ChatEntry{
			Kind:     EntryEnter,
			SenderID: e.Participant.ID,
			Sender:   e.Participant.Nickname,
			Text:     displayName(e.Participant.Nickname, e.Participant.ID) + " joined the room",
			At:       unixMilli(e.TS, now),
		}
	case LeaveEvent:
		entry = ChatEntry{
			Kind:     EntryLeave,
			SenderID: e.ParticipantID,
			Sender:   e.Nickname,
			Text:     displayName(e.Nickname, e.ParticipantID) + " left the room",
			At:       unixMilli(e.TS, now),
		}
	default:
		return ChatEntry{}, false
	}

	c.entries = append(c.entries, entry)

	return entry, true
}

func (c *Chat) SendTalk(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	return c.out.Send(newCommand(CmdChat, TextPayload{Text: text}))
}

func (c *Chat) Entries() []ChatEntry {
	return append([]ChatEntry(nil), c.entries...)
}

func (c *Chat) Clear() {
	c.entries = nil
}

func displayName(nickname, id string) string {
	if nickname != "" {
		return nickname
	}
	return id
}
