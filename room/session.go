/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNotEntered     = errors.New("session not entered")
	ErrAlreadyEntered = errors.New("session already entered")
	ErrNotHost        = errors.New("only the host can start the game")
	ErrNotAllReady    = errors.New("not every participant is ready")
	ErrAlreadyStarted = errors.New("game already started")
	ErrNoKeyword      = errors.New("no keyword selected")
)

const (
	DefaultRosterInterval   = 2 * time.Second
	DefaultLivenessInterval = 2 * time.Second
	DefaultPhaseTimeout     = 45 * time.Second

	maxNotices   = 20
	leaveTimeout = 5 * time.Second
	pollTimeout  = 10 * time.Second
)

type Options struct {
	RoomID    string
	Local     Participant
	Transport Transport

	// Directory, Recorder and Player are optional. Without a Directory the
	// roster is only fed by push events.
	Directory Directory
	Recorder  Recorder
	Player    Player

	RosterInterval   time.Duration
	LivenessInterval time.Duration
	PhaseTimeout     time.Duration

	Log zerolog.Logger
}

type Notice struct {
	At    time.Time `json:"at"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
}

// Snapshot is a copy of everything the presentation layer renders.
type Snapshot struct {
	Room            Info          `json:"room"`
	Local           string        `json:"local"`
	Stage           Stage         `json:"stage"`
	Participants    []Participant `json:"participants"`
	AllReady        bool          `json:"all_ready"`
	Scores          []ScoreEntry  `json:"scores"`
	Chat            []ChatEntry   `json:"chat"`
	Alive           bool          `json:"alive"`
	ReconnectNeeded bool          `json:"reconnect_needed"`
	Stalled         bool          `json:"stalled"`
	MicDenied       bool          `json:"mic_denied"`
	Closed          bool          `json:"closed"`
	Notices         []Notice      `json:"notices"`
}

// Session is one player's view of one room, from Enter until Leave. Every
// state change happens on its event loop goroutine.
type Session struct {
	opts Options
	log  zerolog.Logger

	mu              sync.RWMutex
	info            Info
	machine         *Machine
	roster          *Roster
	ledger          *Ledger
	chat            *Chat
	link            Link
	alive           bool
	reconnectNeeded bool
	stalled         bool
	micDenied       bool
	entered         bool
	joined          bool
	closed          bool
	notices         []Notice
	subs            map[chan struct{}]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	abort  context.CancelFunc
	queue  chan func()
	relink chan Link
	wg     sync.WaitGroup

	leaveOnce sync.Once
}

func NewSession(opts Options) (*Session, error) {
	if opts.RoomID == "" {
		return nil, errors.New("room id is required")
	}
	if opts.Local.ID == "" {
		return nil, errors.New("local participant id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.RosterInterval <= 0 {
		opts.RosterInterval = DefaultRosterInterval
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = DefaultPhaseTimeout
	}

	s := &Session{
		opts:    opts,
		log:     opts.Log.With().Str("room", opts.RoomID).Logger(),
		info:    Info{ID: opts.RoomID, Phase: PhaseWaiting},
		machine: NewMachine("", opts.Local.ID),
		roster:  NewRoster(0),
		ledger:  NewLedger(),
		subs:    make(map[chan struct{}]struct{}),
		queue:   make(chan func(), 8),
		relink:  make(chan Link),
	}
	s.chat = NewChat(senderFunc(s.send))

	return s, nil
}

// Enter joins the room, opens the real-time channel and starts the event
// loop.
func (s *Session) Enter(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.entered:
		s.mu.Unlock()
		return ErrAlreadyEntered
	}
	s.entered = true
	ctx, abort := context.WithCancel(ctx)
	s.abort = abort
	s.mu.Unlock()
	defer abort()

	var (
		details Details
		joined  bool
	)
	if dir := s.opts.Directory; dir != nil {
		d, err := dir.JoinRoom(ctx, s.opts.RoomID)
		if err != nil {
			s.resetEntered()
			return fmt.Errorf("join room: %w", err)
		}
		details, joined = d, true

		s.mu.Lock()
		closed := s.closed
		s.joined = !closed
		s.mu.Unlock()

		if closed {
			_ = s.leaveDirectory()
			return ErrSessionClosed
		}
	}

	link, err := s.opts.Transport.Dial(ctx, s.opts.RoomID)
	if err != nil {
		_ = s.undoJoin()
		s.resetEntered()

		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return ErrSessionClosed
		}
		return err
	}

	// Leave may have run while the join or dial was in flight; it already
	// undid the directory join and nothing has started yet.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = link.Close()
		return ErrSessionClosed
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	if joined {
		s.applyDetails(details)
	}
	s.link = link
	s.alive = true
	s.ctx = loopCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loopCtx, link)

	s.log.Info().Str("participant", s.opts.Local.ID).Str("session", link.ID()).Msg("entered room")
	s.notify()

	return nil
}

func (s *Session) resetEntered() {
	s.mu.Lock()
	s.entered = false
	s.mu.Unlock()
}

// undoJoin leaves the directory room once, if this session still holds it.
func (s *Session) undoJoin() error {
	s.mu.Lock()
	joined := s.joined
	s.joined = false
	s.mu.Unlock()

	if !joined {
		return nil
	}
	return s.leaveDirectory()
}

func (s *Session) leaveDirectory() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	return s.opts.Directory.LeaveRoom(ctx, s.opts.RoomID)
}

func (s *Session) run(ctx context.Context, link Link) {
	defer s.wg.Done()

	liveness := time.NewTicker(s.opts.LivenessInterval)
	defer liveness.Stop()

	var rosterC <-chan time.Time
	if s.opts.Directory != nil {
		t := time.NewTicker(s.opts.RosterInterval)
		defer t.Stop()
		rosterC = t.C
	}

	watchdog := time.NewTimer(s.opts.PhaseTimeout)
	watchdog.Stop()
	defer watchdog.Stop()

	polling := false
	pollDone := func() { polling = false }

	inbound := link.Inbound()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-inbound:
			if !ok {
				inbound = nil
				s.log.Debug().Msg("inbound channel closed")
				continue
			}
			if s.dispatch(ctx, ev) {
				s.armWatchdog(watchdog)
			}

		case next := <-s.relink:
			s.swapLink(next)
			inbound = next.Inbound()
			if rosterC != nil && !polling {
				polling = true
				s.pollRoster(ctx, pollDone)
			}

		case <-liveness.C:
			s.checkLiveness()

		case <-rosterC:
			if !polling {
				polling = true
				s.pollRoster(ctx, pollDone)
			}

		case <-watchdog.C:
			s.requestSync()
			s.armWatchdog(watchdog)

		case fn := <-s.queue:
			fn()
		}
	}
}

// enqueue hands a completion back to the event loop.
func (s *Session) enqueue(ctx context.Context, fn func()) {
	select {
	case s.queue <- fn:
	case <-ctx.Done():
	}
}

func (s *Session) armWatchdog(t *time.Timer) {
	t.Stop()

	s.mu.RLock()
	inGame := s.machine.Phase().InGame()
	s.mu.RUnlock()

	if inGame {
		t.Reset(s.opts.PhaseTimeout)
	}
}

// dispatch routes one inbound event to every component that cares about it.
// It reports whether the event moved the phase machine.
func (s *Session) dispatch(ctx context.Context, ev Event) bool {
	s.mu.Lock()

	// The final table is authoritative; only a resync changes scores after it.
	final := s.machine.Phase() == PhaseFinal

	switch e := ev.(type) {
	case RosterEvent:
		if e.Room != nil {
			s.applyInfo(*e.Room)
		}
		s.roster.Replace(e.Participants)
		s.trackScores()

	case EnterEvent:
		s.roster.Add(e.Participant)
		s.ledger.Track(e.Participant.ID)

	case LeaveEvent:
		s.roster.Remove(e.ParticipantID)

	case RoundResultEvent:
		if e.Outcome == OutcomeMatch && !final {
			s.ledger.ApplyRoundResult(e.ParticipantID, e.Delta)
		}

	case GameEndEvent:
		if !final {
			s.ledger.ApplyFinalTable(e.Table)
		}

	case StateEvent:
		if e.Room != nil {
			s.applyInfo(*e.Room)
		}
		if e.Participants != nil {
			s.roster.Replace(e.Participants)
		}
		if len(e.Scores) > 0 {
			s.ledger.ApplyFinalTable(e.Scores)
		}
		s.trackScores()
	}

	s.chat.Receive(ev)

	var (
		capture  *Stage
		playback *Clip
	)

	tr, moved := s.machine.Apply(ev)
	if moved {
		s.info.Phase = tr.To
		s.stalled = false

		stage := s.machine.Stage()
		if tr.Capture {
			capture = &stage
		}
		if tr.Playback && stage.Clip != nil {
			clip := *stage.Clip
			playback = &clip
		}

		if tr.Regressed {
			s.log.Warn().Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("phase moved backwards")
		} else {
			s.log.Debug().Str("from", string(tr.From)).Str("to", string(tr.To)).Int("round", stage.Round.Index).Msg("phase")
		}
	} else if s.machine.Phase() == PhaseFinal && ev.Kind() != KindChat && ev.Kind() != KindSystem {
		s.log.Debug().Str("event", string(ev.Kind())).Msg("event after final")
	}

	s.mu.Unlock()

	if capture != nil {
		s.startCapture(ctx, *capture)
	}
	if playback != nil {
		s.startPlayback(ctx, *playback)
	}

	s.notify()

	return moved
}

// applyInfo takes everything but the phase from the server's room info;
// the phase only ever comes from the machine.
func (s *Session) applyInfo(info Info) {
	if info.ID == "" {
		info.ID = s.opts.RoomID
	}
	info.Phase = s.machine.Phase()
	s.info = info

	s.roster.SetCapacity(info.Capacity)
	s.roster.SetHost(info.HostID)
	if info.Mode != "" {
		s.machine.SetMode(info.Mode)
	}
}

func (s *Session) applyDetails(d Details) {
	s.applyInfo(d.Room)
	s.roster.Replace(d.Participants)
	s.trackScores()
}

func (s *Session) trackScores() {
	for _, p := range s.roster.List() {
		s.ledger.Track(p.ID)
	}
}

func (s *Session) pollRoster(ctx context.Context, done func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		pctx, cancel := context.WithTimeout(ctx, pollTimeout)
		details, err := s.opts.Directory.RoomDetails(pctx, s.opts.RoomID)
		cancel()

		s.enqueue(ctx, func() {
			done()

			if err != nil {
				s.log.Debug().Err(err).Msg("roster poll failed")
				return
			}

			s.mu.Lock()
			s.applyDetails(details)
			s.mu.Unlock()

			s.notify()
		})
	}()
}

func (s *Session) checkLiveness() {
	s.mu.RLock()
	link := s.link
	s.mu.RUnlock()

	alive := link != nil && link.Alive()
	if alive {
		if err := link.Ping(); err != nil {
			alive = false
		}
	}

	s.mu.Lock()
	changed := alive != s.alive
	s.alive = alive
	if !alive && !s.reconnectNeeded {
		s.reconnectNeeded = true
		s.addNotice("error", "Connection lost. Reconnect or leave the room.")
		s.log.Warn().Msg("connection lost")
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// requestSync is the way out of a stuck phase: the server is asked for a
// full room_state, and the session shows as stalled until something moves.
func (s *Session) requestSync() {
	s.mu.Lock()
	stage := s.machine.Stage()
	if !stage.Phase.InGame() {
		s.mu.Unlock()
		return
	}
	if !s.stalled {
		s.stalled = true
		s.addNotice("warn", "No update from the server, asking for a resync.")
	}
	s.mu.Unlock()

	err := s.send(newCommand(CmdRequestSync, SyncPayload{Phase: stage.Phase, Round: stage.Round.Index}))
	if err != nil {
		s.log.Warn().Err(err).Str("phase", string(stage.Phase)).Msg("resync request failed")
	} else {
		s.log.Warn().Str("phase", string(stage.Phase)).Dur("waited", s.opts.PhaseTimeout).Msg("phase stalled, resync requested")
	}

	s.notify()
}

func (s *Session) swapLink(next Link) {
	s.mu.Lock()
	old := s.link
	s.link = next
	s.alive = true
	s.reconnectNeeded = false
	s.addNotice("info", "Reconnected.")
	s.mu.Unlock()

	if old != nil {
		_ = old.Drop()
	}

	s.log.Info().Str("session", next.ID()).Msg("reconnected")
	s.notify()
}

func (s *Session) startCapture(ctx context.Context, stage Stage) {
	s.mu.Lock()
	rec := s.opts.Recorder
	if rec == nil || s.micDenied {
		s.micDenied = true
		s.addNotice("warn", "Microphone unavailable, skipping this recording.")
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		rctx, cancel := context.WithTimeout(ctx, stage.Duration+writeWait)
		clip, err := rec.Record(rctx, stage.Duration)
		cancel()

		s.enqueue(ctx, func() {
			s.finishCapture(stage.Round, clip, err)
		})
	}()
}

func (s *Session) finishCapture(round Round, clip Clip, err error) {
	if err != nil {
		s.mu.Lock()
		if errors.Is(err, ErrMicDenied) {
			s.micDenied = true
			s.addNotice("error", "Microphone permission denied.")
		} else {
			s.addNotice("warn", "Recording failed.")
		}
		s.mu.Unlock()

		s.log.Warn().Err(err).Int("round", round.Index).Msg("recording failed")
		s.notify()
		return
	}

	clip = sniffMime(clip)

	err = s.send(newCommand(CmdSubmitRecording, RecordingPayload{
		Round:   round.Index,
		Turn:    round.Turn,
		Keyword: round.Keyword,
		Mime:    clip.Mime,
		Audio:   clip.Data,
	}))
	if err != nil {
		s.mu.Lock()
		s.addNotice("error", "Connection lost, recording was not sent.")
		s.mu.Unlock()
		s.log.Warn().Err(err).Int("round", round.Index).Msg("recording not sent")
		s.notify()
		return
	}

	s.log.Info().Int("round", round.Index).Int("bytes", clip.Size).Str("mime", clip.Mime).Msg("recording submitted")
}

func (s *Session) startPlayback(ctx context.Context, clip Clip) {
	player := s.opts.Player
	if player == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := player.Play(ctx, clip); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("mime", clip.Mime).Msg("playback failed")
		}
	}()
}

func (s *Session) send(cmd Command) error {
	s.mu.RLock()
	link, closed := s.link, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrSessionClosed
	}
	if link == nil {
		return ErrNotConnected
	}

	return link.Send(cmd)
}

// addNotice expects s.mu to be held.
func (s *Session) addNotice(level, text string) {
	s.notices = append(s.notices, Notice{At: time.Now(), Level: level, Text: text})
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

func (s *Session) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce; read Snapshot for the actual state. The channel is
// closed on Leave or when cancel is called.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Session) ToggleReady() error {
	s.mu.RLock()
	me, _ := s.roster.Get(s.opts.Local.ID)
	s.mu.RUnlock()

	return s.send(newCommand(CmdToggleReady, ReadyPayload{Ready: !me.Ready}))
}

func (s *Session) MicReady() error {
	s.mu.RLock()
	me, _ := s.roster.Get(s.opts.Local.ID)
	denied := s.micDenied || s.opts.Recorder == nil
	s.mu.RUnlock()

	if denied {
		return ErrMicDenied
	}

	return s.send(newCommand(CmdMicReady, ReadyPayload{Ready: !me.MicReady}))
}

func (s *Session) StartGame() error {
	s.mu.RLock()
	me, _ := s.roster.Get(s.opts.Local.ID)
	host := me.Host || s.info.HostID == s.opts.Local.ID
	ready := s.roster.AllReady()
	phase := s.machine.Phase()
	s.mu.RUnlock()

	switch {
	case !host:
		return ErrNotHost
	case phase != PhaseWaiting && phase != PhaseFinal:
		return ErrAlreadyStarted
	case !ready:
		return ErrNotAllReady
	}

	return s.send(newCommand(CmdStartGame, struct{}{}))
}

func (s *Session) SendTalk(text string) error {
	return s.chat.SendTalk(text)
}

// SubmitAnswer sends a free-text guess. Quiz rooms answer through the
// Directory when one is configured; its verdict only shows up as a notice,
// the score still comes from round_result.
func (s *Session) SubmitAnswer(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.RLock()
	mode := s.machine.Mode()
	round := s.machine.Stage().Round.Index
	s.mu.RUnlock()

	if dir := s.opts.Directory; mode == ModeQuiz && dir != nil {
		res, err := dir.SubmitAnswer(ctx, s.opts.RoomID, round, text)
		if err != nil {
			return fmt.Errorf("submit answer: %w", err)
		}

		s.mu.Lock()
		if res.Correct {
			s.addNotice("info", "Correct!")
		} else {
			s.addNotice("info", "Not quite.")
		}
		s.mu.Unlock()
		s.notify()

		return nil
	}

	return s.send(newCommand(CmdAnswer, TextPayload{Round: round, Text: text}))
}

func (s *Session) ConfirmKeyword(keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ErrNoKeyword
	}

	return s.send(newCommand(CmdKeywordConfirm, KeywordPayload{Keyword: keyword}))
}

// Reconnect dials the same room again. Events missed while disconnected are
// not replayed.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.RLock()
	closed, entered, loopCtx := s.closed, s.entered, s.ctx
	s.mu.RUnlock()

	if closed {
		return ErrSessionClosed
	}
	if !entered || loopCtx == nil {
		return ErrNotEntered
	}

	link, err := s.opts.Transport.Dial(ctx, s.opts.RoomID)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	select {
	case s.relink <- link:
		return nil
	case <-loopCtx.Done():
		_ = link.Drop()
		return ErrSessionClosed
	case <-ctx.Done():
		_ = link.Drop()
		return ctx.Err()
	}
}

// Leave stops every timer and in-flight task, closes the channel and tells
// the server once. Later calls return nil.
func (s *Session) Leave() error {
	var err error

	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, abort := s.cancel, s.abort
		s.mu.Unlock()

		if abort != nil {
			abort()
		}
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		s.mu.Lock()
		link := s.link
		s.link = nil
		s.alive = false
		s.chat.Clear()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()

		var errs []error
		if link != nil {
			errs = append(errs, link.Close())
		}
		if lerr := s.undoJoin(); lerr != nil {
			errs = append(errs, fmt.Errorf("leave room: %w", lerr))
		}

		for ch := range subs {
			close(ch)
		}

		err = errors.Join(errs...)
		s.log.Info().Msg("left room")
	})

	return err
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stage := s.machine.Stage()
	if stage.Clip != nil {
		clip := *stage.Clip
		stage.Clip = &clip
	}
	stage.Final = append([]ScoreEntry(nil), stage.Final...)

	return Snapshot{
		Room:            s.info,
		Local:           s.opts.Local.ID,
		Stage:           stage,
		Participants:    s.roster.List(),
		AllReady:        s.roster.AllReady(),
		Scores:          s.ledger.Ranked(),
		Chat:            s.chat.Entries(),
		Alive:           s.alive,
		ReconnectNeeded: s.reconnectNeeded,
		Stalled:         s.stalled,
		MicDenied:       s.micDenied,
		Closed:          s.closed,
		Notices:         append([]Notice(nil), s.notices...),
	}
}
