// Package session runs one live interview over a websocket connection.
//
// A single event loop goroutine owns all session state and serializes every
// trigger: client frames, capture deltas, the silence debounce, the
// inactivity poll, the next-question delay, and the absolute session
// deadline. Wall timers are wakeups only; decisions are made against the
// injected clock.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/voxprep/voxprep/pkg/core/graph"
	"github.com/voxprep/voxprep/pkg/core/scoring"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/core/voice/stt"
	"github.com/voxprep/voxprep/pkg/core/voice/tts"
	"github.com/voxprep/voxprep/pkg/gateway/live/protocol"
	"github.com/voxprep/voxprep/pkg/gateway/store"
)

const (
	inactivityPrompt = "Are you there? Please say 'yes' to continue."

	closingTime     = "Time is up. Thank you for completing the interview."
	closingInactive = "It seems you're away, so we'll end the interview here. Thank you."
	closingDefault  = "That brings us to the end of the interview. Thank you for your time."

	maxCanceledUtteranceIDs   = 16
	outboundPriorityQueueSize = 8
	audioOutChunkBytes        = 32 * 1024
)

var errBackpressure = errors.New("live outbound backpressure")

// CaptureProvider opens answer captures. stt.Provider satisfies it.
type CaptureProvider interface {
	NewCapture(ctx context.Context, cfg stt.CaptureConfig) (stt.CaptureSession, error)
}

// SpeechProvider synthesizes spoken prompts. tts.Provider satisfies it.
type SpeechProvider interface {
	Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error)
}

type Config struct {
	MaxJSONMessageBytes int64
	MaxAudioFrameBytes  int

	SessionDuration       time.Duration
	InactivityThreshold   time.Duration
	InactivityResponse    time.Duration
	InactivityPromptLimit int
	InactivityPoll        time.Duration
	SilenceCommit         time.Duration
	NextQuestionDelay     time.Duration
	TimeRemainingInterval time.Duration

	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int

	VoiceID            string
	Language           string
	SpeechSpeed        float64
	AudioOutFormat     string
	AudioOutSampleRate int

	PersistTimeout time.Duration
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Graph     *graph.Graph
	STT       CaptureProvider // nil means captures are unavailable
	TTS       SpeechProvider  // nil means prompts are not spoken
	Store     store.Store
	Hello     protocol.ClientHello
	SessionID string
	UserID    string
	RequestID string
	Config    Config
	StartTime time.Time
	Now       func() time.Time

	// OnFinish and OnTurn are optional observation hooks.
	OnFinish func(reason types.FinishReason, duration time.Duration, turns int)
	OnTurn   func()
}

type InterviewSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	graph     *graph.Graph
	stt       CaptureProvider
	tts       SpeechProvider
	store     store.Store
	hello     protocol.ClientHello
	sessionID string
	userID    string
	requestID string
	cfg       Config
	startTime time.Time
	now       func() time.Time
	onFinish  func(reason types.FinishReason, duration time.Duration, turns int)
	onTurn    func()

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledUtterances atomic.Value // canceledUtteranceState
	utteranceCounter   atomic.Int64
}

type canceledUtteranceState struct {
	set   map[string]struct{}
	order []string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*InterviewSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("question graph is required")
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = store.Nop{}
	}
	if strings.TrimSpace(deps.UserID) == "" {
		// Anonymous sessions are never persisted.
		deps.Store = store.Nop{}
	}
	if deps.Config.SessionDuration <= 0 {
		deps.Config.SessionDuration = 15 * time.Minute
	}
	if deps.Config.InactivityThreshold <= 0 {
		deps.Config.InactivityThreshold = 2 * time.Minute
	}
	if deps.Config.InactivityResponse <= 0 {
		deps.Config.InactivityResponse = 25 * time.Second
	}
	if deps.Config.InactivityPromptLimit <= 0 {
		deps.Config.InactivityPromptLimit = 1
	}
	if deps.Config.InactivityPoll <= 0 {
		deps.Config.InactivityPoll = 2 * time.Second
	}
	if deps.Config.SilenceCommit <= 0 {
		deps.Config.SilenceCommit = 3 * time.Second
	}
	if deps.Config.NextQuestionDelay <= 0 {
		deps.Config.NextQuestionDelay = 1200 * time.Millisecond
	}
	if deps.Config.TimeRemainingInterval <= 0 {
		deps.Config.TimeRemainingInterval = time.Second
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxAudioFrameBytes <= 0 {
		deps.Config.MaxAudioFrameBytes = 64 * 1024
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 5 * time.Second
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &InterviewSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		graph:            deps.Graph,
		stt:              deps.STT,
		tts:              deps.TTS,
		store:            deps.Store,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		userID:           strings.TrimSpace(deps.UserID),
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		startTime:        deps.StartTime,
		now:              deps.Now,
		onFinish:         deps.OnFinish,
		onTurn:           deps.OnTurn,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	s.canceledUtterances.Store(canceledUtteranceState{set: make(map[string]struct{})})
	return s, nil
}

// Limits reports the timing policy advertised in hello_ack.
func (s *InterviewSession) Limits() protocol.Limits {
	return protocol.Limits{
		SessionMS:             s.cfg.SessionDuration.Milliseconds(),
		InactivityThresholdMS: s.cfg.InactivityThreshold.Milliseconds(),
		InactivityResponseMS:  s.cfg.InactivityResponse.Milliseconds(),
		SilenceCommitMS:       s.cfg.SilenceCommit.Milliseconds(),
		NextQuestionDelayMS:   s.cfg.NextQuestionDelay.Milliseconds(),
		MaxAudioFrameBytes:    s.cfg.MaxAudioFrameBytes,
	}
}

func (s *InterviewSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:         s.conn,
			ctx:        s.ctx,
			cfg:        s.cfg,
			priority:   s.outboundPriority,
			normal:     s.outboundNormal,
			isCanceled: s.isUtteranceCanceled,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() error {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return nil
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer s.cancel() // unblock helper goroutines before waiting on them

	var (
		clock = NewSessionClock(s.startTime, s.cfg.SessionDuration, s.now)
		inact = newInactivityMonitor(s.cfg.InactivityThreshold, s.cfg.InactivityResponse, s.cfg.InactivityPromptLimit, s.startTime)
		turn  = &turnController{}

		currentNode   = s.graph.Start()
		questionIndex = 0
		turns         []types.Turn

		silenceTimer      *time.Timer
		silenceActive     bool
		silenceDeadlineMS int64

		nextTimer  *time.Timer
		nextActive bool
		nextNode   string

		speakCancel context.CancelFunc
		activeUtter string

		finished bool
	)

	stopTimer := func(t **time.Timer, active *bool) {
		if *t == nil {
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		*active = false
	}
	resetTimer := func(t **time.Timer, active *bool, d time.Duration) {
		if d < 0 {
			return
		}
		if *t == nil {
			*t = time.NewTimer(d)
			*active = true
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		(*t).Reset(d)
		*active = true
	}
	silenceCh := func() <-chan time.Time {
		if !silenceActive || silenceTimer == nil {
			return nil
		}
		return silenceTimer.C
	}
	nextCh := func() <-chan time.Time {
		if !nextActive || nextTimer == nil {
			return nil
		}
		return nextTimer.C
	}
	defer func() {
		if silenceTimer != nil {
			silenceTimer.Stop()
		}
		if nextTimer != nil {
			nextTimer.Stop()
		}
	}()

	speak := func(text string) {
		if s.tts == nil || !s.hello.Features.WantPromptAudio {
			return
		}
		if speakCancel != nil {
			speakCancel()
			speakCancel = nil
		}
		if activeUtter != "" {
			s.cancelUtterance(activeUtter)
		}
		utterID := s.nextUtteranceID()
		activeUtter = utterID
		speakCtx, cancel := context.WithCancel(s.ctx)
		speakCancel = cancel
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.speakUtterance(speakCtx, utterID, text)
		}()
	}

	persistTurn := func(recorded types.Turn) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
			defer cancel()
			if err := s.store.AppendTurn(ctx, s.userID, s.sessionID, s.startTime, recorded); err != nil {
				s.logger.Warn("append turn failed", "session_id", s.sessionID, "error", err)
			}
		}()
	}

	finish := func(reason types.FinishReason) {
		if finished {
			return
		}
		finished = true

		stopTimer(&silenceTimer, &silenceActive)
		stopTimer(&nextTimer, &nextActive)
		if turn.Active() {
			turn.abort()
		}

		report := scoring.Evaluate(turns)
		report.Reason = reason

		switch reason {
		case types.FinishTime:
			speak(closingTime)
		case types.FinishInactive:
			speak(closingInactive)
		default:
			speak(closingDefault)
		}

		// Keep ordering with frames already queued; escalate to the priority
		// queue only when the normal one is full.
		final := protocol.ServerSessionFinished{Type: "session_finished", Reason: reason, Report: report}
		if err := s.sendJSON(final); err != nil {
			if errors.Is(err, errBackpressure) {
				err = s.sendJSONPriority(final)
			}
			if err != nil {
				s.logger.Warn("send session_finished failed", "session_id", s.sessionID, "error", err)
			}
		}

		finishedAt := s.now()
		rec := store.FinishRecord{
			StartedAt:  s.startTime,
			FinishedAt: finishedAt,
			Reason:     reason,
			Report:     report,
			Turns:      turns,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
			defer cancel()
			if err := s.store.FinishSession(ctx, s.userID, s.sessionID, rec); err != nil {
				s.logger.Warn("finish session write failed", "session_id", s.sessionID, "error", err)
			}
		}()

		if s.onFinish != nil {
			s.onFinish(reason, finishedAt.Sub(s.startTime), len(turns))
		}
		s.logger.Info("session finished",
			"session_id", s.sessionID,
			"reason", string(reason),
			"turns", len(turns),
			"score", report.Score)
	}

	sendQuestion := func(nodeID string) error {
		prompt, err := s.graph.Prompt(nodeID)
		if err != nil {
			return err
		}
		questionIndex++
		if err := s.sendJSON(protocol.ServerQuestion{
			Type:        "question",
			NodeID:      nodeID,
			Prompt:      prompt,
			Index:       questionIndex,
			TimestampMS: clock.ElapsedMS(),
		}); err != nil {
			return err
		}
		speak(prompt)
		return nil
	}

	commitAnswer := func(answer string) error {
		answer = normalizeSpace(answer)
		if answer == "" {
			// Nothing usable was said. No turn, no transition.
			return nil
		}
		prompt, err := s.graph.Prompt(currentNode)
		if err != nil {
			return err
		}
		recorded := types.Turn{
			QuestionID: currentNode,
			Prompt:     prompt,
			Answer:     answer,
			CapturedAt: s.now(),
		}
		turns = append(turns, recorded)
		inact.Touch(s.now())
		if s.onTurn != nil {
			s.onTurn()
		}
		if err := s.sendJSON(protocol.ServerTurnRecorded{Type: "turn_recorded", Turn: recorded}); err != nil {
			return err
		}
		persistTurn(recorded)

		next, err := s.graph.Transition(currentNode, answer)
		if err != nil {
			return err
		}
		if next == "" {
			finish(types.FinishNatural)
			return flushAndClose()
		}
		nextNode = next
		resetTimer(&nextTimer, &nextActive, s.cfg.NextQuestionDelay)
		return nil
	}

	completeCommit := func() error {
		answer := turn.end()
		if err := s.sendJSON(protocol.ServerListening{Type: "listening", Active: false}); err != nil {
			return err
		}
		return commitAnswer(answer)
	}

	startCapture := func() error {
		if turn.Active() {
			return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: "already_listening", Message: "an answer capture is already active"})
		}
		if nextActive {
			return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: "question_pending", Message: "the next question has not been asked yet"})
		}
		if s.stt == nil || s.hello.AudioIn == nil {
			return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: "capability_unavailable", Message: "speech capture is unavailable; use text_answer"})
		}
		capture, err := s.stt.NewCapture(s.ctx, stt.CaptureConfig{
			Language:   s.cfg.Language,
			Encoding:   s.hello.AudioIn.Encoding,
			SampleRate: s.hello.AudioIn.SampleRateHz,
		})
		if err != nil {
			s.logger.Warn("capture open failed", "session_id", s.sessionID, "error", err)
			return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: "capability_unavailable", Message: "speech capture is unavailable; use text_answer"})
		}
		turn.begin(capture)
		return s.sendJSON(protocol.ServerListening{Type: "listening", Active: true})
	}

	sessionTimer := time.NewTimer(clock.Remaining())
	defer sessionTimer.Stop()
	remainTicker := time.NewTicker(s.cfg.TimeRemainingInterval)
	defer remainTicker.Stop()
	inactTicker := time.NewTicker(s.cfg.InactivityPoll)
	defer inactTicker.Stop()

	// The opening question rides in hello_ack; speak it right away.
	if prompt, err := s.graph.Prompt(currentNode); err == nil {
		questionIndex = 1
		speak(prompt)
	}

	// Every exit below, including send failures, must converge on finish;
	// it is idempotent, so exits that already finished make this a no-op.
	defer finish(types.FinishManual)

	for {
		select {
		case <-s.ctx.Done():
			finish(types.FinishManual)
			return nil
		case err := <-writerErrCh:
			finish(types.FinishManual)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				// Client went away.
				finish(types.FinishManual)
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				if err := s.sendSessionError("bad_request", "only text frames are supported", true); err != nil {
					return err
				}
				finish(types.FinishManual)
				return flushAndClose()
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				code := "bad_request"
				var de *protocol.DecodeError
				if errors.As(decErr, &de) {
					code = de.Code
				}
				if err := s.sendSessionError(code, decErr.Error(), true); err != nil {
					return err
				}
				finish(types.FinishManual)
				return flushAndClose()
			}
			switch m := msg.(type) {
			case protocol.ClientHello:
				if err := s.sendSessionError("bad_request", "hello is only valid as the first frame", true); err != nil {
					return err
				}
				finish(types.FinishManual)
				return flushAndClose()
			case protocol.ClientAudioFrame:
				if !turn.Active() || turn.Committing() {
					continue
				}
				audio, err := base64.StdEncoding.DecodeString(m.DataB64)
				if err != nil {
					if err := s.sendSessionError("bad_request", "invalid audio_frame.data_b64", true); err != nil {
						return err
					}
					finish(types.FinishManual)
					return flushAndClose()
				}
				if len(audio) > s.cfg.MaxAudioFrameBytes {
					if err := s.sendSessionError("bad_request", "audio frame exceeds max size", true); err != nil {
						return err
					}
					finish(types.FinishManual)
					return flushAndClose()
				}
				if err := turn.capture.SendAudio(audio); err != nil {
					s.logger.Warn("audio forward failed", "session_id", s.sessionID, "error", err)
					turn.abort()
					if err := s.sendJSON(protocol.ServerListening{Type: "listening", Active: false}); err != nil {
						return err
					}
					continue
				}
				if silenceActive && silenceDeadlineMS > 0 && clock.ElapsedMS() >= silenceDeadlineMS {
					stopTimer(&silenceTimer, &silenceActive)
					turn.beginCommit()
				}
			case protocol.ClientTextAnswer:
				if turn.Active() {
					turn.abort()
					stopTimer(&silenceTimer, &silenceActive)
					if err := s.sendJSON(protocol.ServerListening{Type: "listening", Active: false}); err != nil {
						return err
					}
				}
				if err := commitAnswer(m.Text); err != nil {
					return err
				}
				if finished {
					return nil
				}
			case protocol.ClientControl:
				switch m.Op {
				case protocol.OpAnswer:
					if err := startCapture(); err != nil {
						return err
					}
				case protocol.OpStopAnswer:
					if turn.Active() && !turn.Committing() {
						stopTimer(&silenceTimer, &silenceActive)
						turn.beginCommit()
					}
				case protocol.OpReadQuestion:
					inact.Touch(s.now())
					prompt, err := s.graph.Prompt(currentNode)
					if err != nil {
						return err
					}
					if err := s.sendJSON(protocol.ServerQuestion{
						Type:        "question",
						NodeID:      currentNode,
						Prompt:      prompt,
						Index:       questionIndex,
						TimestampMS: clock.ElapsedMS(),
					}); err != nil {
						return err
					}
					speak(prompt)
				case protocol.OpFinish:
					finish(types.FinishManual)
					return flushAndClose()
				}
			}
		case delta, ok := <-turn.deltas():
			if !ok {
				// Engine ended the capture on its own.
				if turn.Committing() {
					if err := completeCommit(); err != nil {
						return err
					}
					if finished {
						return nil
					}
					continue
				}
				turn.abort()
				stopTimer(&silenceTimer, &silenceActive)
				if err := s.sendJSON(protocol.ServerListening{Type: "listening", Active: false}); err != nil {
					return err
				}
				continue
			}
			text := normalizeSpace(delta.Text)
			if text == "" {
				continue
			}
			turn.observe(delta)
			if s.hello.Features.WantPartialTranscripts || delta.IsFinal {
				if err := s.sendJSON(protocol.ServerTranscriptDelta{
					Type:        "transcript_delta",
					Text:        text,
					IsFinal:     delta.IsFinal,
					TimestampMS: clock.ElapsedMS(),
				}); err != nil {
					return err
				}
			}
			if confirmedSpeech(text) {
				inact.Touch(s.now())
			}
			if turn.Committing() {
				if delta.IsFinal {
					if err := completeCommit(); err != nil {
						return err
					}
					if finished {
						return nil
					}
				}
				continue
			}
			silenceDeadlineMS = clock.ElapsedMS() + s.cfg.SilenceCommit.Milliseconds()
			resetTimer(&silenceTimer, &silenceActive, s.cfg.SilenceCommit)
		case <-silenceCh():
			silenceActive = false
			if !turn.Active() || turn.Committing() {
				continue
			}
			if silenceDeadlineMS > 0 && clock.ElapsedMS() < silenceDeadlineMS {
				// Woke early relative to the injected clock; re-arm for the rest.
				resetTimer(&silenceTimer, &silenceActive, time.Duration(silenceDeadlineMS-clock.ElapsedMS())*time.Millisecond)
				continue
			}
			turn.beginCommit()
		case <-nextCh():
			nextActive = false
			currentNode = nextNode
			nextNode = ""
			if err := sendQuestion(currentNode); err != nil {
				return err
			}
		case <-remainTicker.C:
			if err := s.sendJSON(protocol.ServerTimeRemaining{
				Type:        "time_remaining",
				RemainingMS: clock.Remaining().Milliseconds(),
			}); err != nil {
				return err
			}
		case <-inactTicker.C:
			switch inact.Observe(s.now()) {
			case inactivityWarn:
				if err := s.sendJSON(protocol.ServerInactivityWarning{
					Type:    "inactivity_warning",
					Message: inactivityPrompt,
				}); err != nil {
					return err
				}
				speak(inactivityPrompt)
			case inactivityFinish:
				finish(types.FinishInactive)
				return flushAndClose()
			}
		case <-sessionTimer.C:
			if !clock.Expired() {
				sessionTimer.Reset(clock.Remaining())
				continue
			}
			// The deadline pre-empts any in-flight capture; the unfinalized
			// answer is discarded.
			finish(types.FinishTime)
			return flushAndClose()
		}
	}
}

func (s *InterviewSession) speakUtterance(ctx context.Context, utterID, text string) {
	synth, err := s.tts.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:      s.cfg.VoiceID,
		Speed:      s.cfg.SpeechSpeed,
		Language:   s.cfg.Language,
		Format:     s.cfg.AudioOutFormat,
		SampleRate: s.cfg.AudioOutSampleRate,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("synthesize failed", "session_id", s.sessionID, "error", err)
		}
		return
	}
	audio := synth.Audio
	for off := 0; off < len(audio); off += audioOutChunkBytes {
		if ctx.Err() != nil {
			return
		}
		end := off + audioOutChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		_ = s.sendUtteranceJSON(utterID, protocol.ServerAudioOut{
			Type:        "audio_out",
			UtteranceID: utterID,
			DataB64:     base64.StdEncoding.EncodeToString(audio[off:end]),
			Final:       end == len(audio),
		})
	}
	if len(audio) == 0 {
		_ = s.sendUtteranceJSON(utterID, protocol.ServerAudioOut{
			Type:        "audio_out",
			UtteranceID: utterID,
			Final:       true,
		})
	}
}

func (s *InterviewSession) sendSessionError(code, message string, close bool) error {
	msg := protocol.ServerError{Type: "error", Code: code, Message: message, Close: close}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *InterviewSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *InterviewSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

func (s *InterviewSession) sendUtteranceJSON(utterID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{isPromptAudio: true, utteranceID: utterID, payload: payload})
}

func (s *InterviewSession) enqueueNormal(frame outboundFrame) error {
	if frame.isPromptAudio && s.isUtteranceCanceled(frame.utteranceID) {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		if frame.isPromptAudio {
			// Audio is best-effort; a slow client loses prompt audio, not the session.
			return nil
		}
		return errBackpressure
	}
}

func (s *InterviewSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *InterviewSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *InterviewSession) nextUtteranceID() string {
	return fmt.Sprintf("u_%d", s.utteranceCounter.Add(1))
}

func (s *InterviewSession) cancelUtterance(utterID string) {
	utterID = strings.TrimSpace(utterID)
	if utterID == "" {
		return
	}
	raw := s.canceledUtterances.Load()
	state, ok := raw.(canceledUtteranceState)
	if !ok {
		state = canceledUtteranceState{set: make(map[string]struct{})}
	}
	if _, exists := state.set[utterID]; exists {
		return
	}
	nextSet := make(map[string]struct{}, len(state.set)+1)
	for k := range state.set {
		nextSet[k] = struct{}{}
	}
	nextOrder := append(append([]string(nil), state.order...), utterID)
	nextSet[utterID] = struct{}{}
	for len(nextOrder) > maxCanceledUtteranceIDs {
		evict := nextOrder[0]
		nextOrder = nextOrder[1:]
		delete(nextSet, evict)
	}
	s.canceledUtterances.Store(canceledUtteranceState{set: nextSet, order: nextOrder})
}

func (s *InterviewSession) isUtteranceCanceled(utterID string) bool {
	utterID = strings.TrimSpace(utterID)
	if utterID == "" {
		return false
	}
	state, ok := s.canceledUtterances.Load().(canceledUtteranceState)
	if !ok || state.set == nil {
		return false
	}
	_, exists := state.set[utterID]
	return exists
}

// Cancel asks the session loop to shut down.
func (s *InterviewSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *InterviewSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// confirmedSpeech filters transcript noise before it counts as candidate
// activity for the inactivity monitor.
func confirmedSpeech(text string) bool {
	trimmed := normalizeSpace(text)
	if len([]rune(trimmed)) < 4 {
		return false
	}
	return hasLetterOrDigit(trimmed)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
