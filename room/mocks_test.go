/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- Directory ---

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ListRooms(ctx context.Context) ([]Info, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Info), args.Error(1)
}

func (m *MockDirectory) RoomDetails(ctx context.Context, roomID string) (Details, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(Details), args.Error(1)
}

func (m *MockDirectory) JoinRoom(ctx context.Context, roomID string) (Details, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(Details), args.Error(1)
}

func (m *MockDirectory) LeaveRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *MockDirectory) SubmitAnswer(ctx context.Context, roomID string, round int, answer string) (AnswerResult, error) {
	args := m.Called(ctx, roomID, round, answer)
	return args.Get(0).(AnswerResult), args.Error(1)
}

// --- Recorder / Player ---

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, window time.Duration) (Clip, error) {
	args := m.Called(ctx, window)
	return args.Get(0).(Clip), args.Error(1)
}

type MockPlayer struct {
	mock.Mock
}

func (m *MockPlayer) Play(ctx context.Context, clip Clip) error {
	args := m.Called(ctx, clip)
	return args.Error(0)
}

// --- Transport / Link ---

type fakeLink struct {
	id      string
	in      chan Event
	alive   atomic.Bool
	closes  atomic.Int32
	drops   atomic.Int32
	pings   atomic.Int32
	sendErr error

	mu   sync.Mutex
	sent []Command
}

func newFakeLink(id string) *fakeLink {
	l := &fakeLink{id: id, in: make(chan Event, 64)}
	l.alive.Store(true)
	return l
}

func (l *fakeLink) ID() string            { return l.id }
func (l *fakeLink) Inbound() <-chan Event { return l.in }
func (l *fakeLink) Alive() bool           { return l.alive.Load() }

func (l *fakeLink) Ping() error {
	l.pings.Add(1)
	if !l.alive.Load() {
		return ErrNotConnected
	}
	return nil
}

func (l *fakeLink) Send(cmd Command) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	if !l.alive.Load() {
		return ErrNotConnected
	}
	l.mu.Lock()
	l.sent = append(l.sent, cmd)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	l.alive.Store(false)
	return nil
}

func (l *fakeLink) Drop() error {
	l.drops.Add(1)
	l.alive.Store(false)
	return nil
}

func (l *fakeLink) Sent() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Command(nil), l.sent...)
}

func (l *fakeLink) sentOf(kind CommandKind) []Command {
	var out []Command
	for _, c := range l.Sent() {
		if c.Type == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	links []*fakeLink
	err   error
}

func (t *fakeTransport) Dial(ctx context.Context, roomID string) (Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	l := newFakeLink(roomID + "-" + string(rune('a'+len(t.links))))
	t.links = append(t.links, l)
	return l, nil
}

func (t *fakeTransport) link(i int) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.links) {
		return nil
	}
	return t.links[i]
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}
