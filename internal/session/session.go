// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/model"
	"github.com/jeranaias/runnerchat/internal/stream"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// DefaultHistoryLimit is how many prior messages are sent with a request.
const DefaultHistoryLimit = 10

// Reporter receives finished metrics and failed-exchange reports. Both
// calls must return without waiting on delivery; *telemetry.Reporter does.
type Reporter interface {
	ReportMetrics(report telemetry.MetricsReport)
	ReportError(report telemetry.ErrorReport)
}

type nopReporter struct{}

func (nopReporter) ReportMetrics(telemetry.MetricsReport) {}
func (nopReporter) ReportError(telemetry.ErrorReport)     {}

// =============================================================================
// SESSION
// =============================================================================

// Session runs one chat exchange at a time over a conversation. All methods
// are safe for concurrent use.
type Session struct {
	transport      Transport
	reporter       Reporter
	tracker        *telemetry.Tracker
	logger         *zap.Logger
	now            func() time.Time
	observer       func(Update)
	historyLimit   int
	requestTimeout time.Duration
	decoderOpts    []stream.Option

	mu      sync.Mutex
	conv    *model.Conversation
	state   State
	rag     bool
	closed  bool
	current *exchange

	// notifyMu serializes observer calls so Close can wait for one in progress.
	notifyMu sync.Mutex
}

// exchange is the per-send state. Fields other than the ids are guarded by
// Session.mu.
type exchange struct {
	id     string
	input  string
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	assistant *model.Message
	sawToken  bool
}

// Option configures a Session.
type Option func(*Session)

// WithReporter sets where metrics and error reports go.
func WithReporter(r Reporter) Option {
	return func(s *Session) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithObserver registers fn to receive every Update. fn runs on the goroutine
// that called Send and must not call Close.
func WithObserver(fn func(Update)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithLogger sets the logger. It is also handed to the stream decoder.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for metrics timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRAG starts the session in RAG mode.
func WithRAG(enabled bool) Option {
	return func(s *Session) {
		s.rag = enabled
	}
}

// WithHistoryLimit caps the history sent with each request. Zero sends none.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.historyLimit = n
		}
	}
}

// WithRequestTimeout bounds a whole exchange. Expiry is a network error.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

// WithTracker shares a tracker between sessions.
func WithTracker(t *telemetry.Tracker) Option {
	return func(s *Session) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithConversation resumes an existing conversation.
func WithConversation(c *model.Conversation) Option {
	return func(s *Session) {
		if c != nil {
			s.conv = c
		}
	}
}

// WithDecoderOptions passes extra options to every stream decoder.
func WithDecoderOptions(opts ...stream.Option) Option {
	return func(s *Session) {
		s.decoderOpts = append(s.decoderOpts, opts...)
	}
}

// New creates an idle session.
func New(transport Transport, opts ...Option) *Session {
	s := &Session{
		transport:    transport,
		reporter:     nopReporter{},
		tracker:      telemetry.NewTracker(),
		logger:       zap.NewNop(),
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
		conv:         model.NewConversation(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RAG reports whether requests go to the RAG endpoint.
func (s *Session) RAG() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rag
}

// SetRAG switches endpoints. It takes effect on the next Send.
func (s *Session) SetRAG(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rag = enabled
}

// Messages returns copies of the conversation's messages.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Snapshots()
}

// Reset starts a new conversation.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state.InFlight() {
		return ErrBusy
	}
	s.conv = model.NewConversation()
	s.state = StateIdle
	return nil
}

// Close abandons any exchange in flight. Once Close returns the observer is
// not called again and no message is modified.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.current != nil {
		s.current.cancel()
	}
	s.state = StateIdle
	s.mu.Unlock()

	// Wait out an observer call that started before closed was set.
	s.notifyMu.Lock()
	s.notifyMu.Unlock()
	return nil
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Send runs one exchange and blocks until it completes, fails, or is
// abandoned. Blank input returns ErrEmptyInput and a send while another is in
// flight returns ErrBusy; neither issues a request. A failed exchange returns
// an *ExchangeError. Cancelling ctx abandons the exchange and returns ctx's
// error with the session back in Idle.
func (s *Session) Send(ctx context.Context, input string) (Result, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Result{State: s.State()}, ErrEmptyInput
	}

	ex, req, err := s.begin(ctx, text)
	if err != nil {
		return Result{State: s.State()}, err
	}
	defer s.end(ex)

	s.notify(Update{RequestID: ex.id, State: StateSending})

	resp, err := s.transport.Open(ex.ctx, req)
	if err != nil {
		return s.fail(ex, telemetry.ErrorTypeNetwork, 0, err)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	if !resp.OK() {
		drainAndClose(resp.Body)
		return s.fail(ex, telemetry.ErrorTypeAPI, resp.StatusCode, nil)
	}
	defer resp.Body.Close()

	// A blocked Read only returns once the body is closed.
	stop := context.AfterFunc(ex.ctx, func() { resp.Body.Close() })
	defer stop()

	if !s.startStreaming(ex) {
		return s.abandon(ex)
	}

	mode := stream.ModePlain
	if req.RAG {
		mode = stream.ModeStructured
	}
	opts := append([]stream.Option{stream.WithLogger(s.logger)}, s.decoderOpts...)
	dec := stream.NewDecoder(resp.Body, mode, opts...)

	for {
		ev, err := dec.Next(ex.ctx)
		if err != nil {
			return s.fail(ex, telemetry.ErrorTypeNetwork, 0, err)
		}

		switch ev.Kind {
		case stream.EventToken:
			if !s.applyToken(ex, ev.Text) {
				return s.abandon(ex)
			}
		case stream.EventSources:
			if !s.applySources(ex, ev.Sources) {
				return s.abandon(ex)
			}
		case stream.EventEnd:
			return s.complete(ex)
		}
	}
}

// begin moves Idle to Sending and builds the request.
func (s *Session) begin(parent context.Context, text string) (*exchange, Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, Request{}, ErrClosed
	}
	if s.state.InFlight() {
		return nil, Request{}, ErrBusy
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if s.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.requestTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	req := Request{Message: text, History: s.conv.History(s.historyLimit)}
	if s.rag {
		req.Query = text
		req.RAG = true
	}
	s.conv.AddUserMessage(text)

	ex := &exchange{
		id:     uuid.NewString(),
		input:  text,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
	}
	s.current = ex
	s.state = StateSending
	s.tracker.Start(ex.id, text, s.now())

	s.logger.Debug("chat request started",
		zap.String("request_id", ex.id),
		zap.Bool("rag", req.RAG),
		zap.Int("history", len(req.History)),
	)
	return ex, req, nil
}

func (s *Session) end(ex *exchange) {
	ex.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == ex {
		s.current = nil
	}
	s.tracker.Discard(ex.id)
}

// abandonedLocked reports whether the caller gave up on ex or the session
// closed. Caller holds s.mu.
func (s *Session) abandonedLocked(ex *exchange) bool {
	return s.closed || ex.parent.Err() != nil
}

func (s *Session) startStreaming(ex *exchange) bool {
	s.mu.Lock()
	if s.abandonedLocked(ex) {
		s.mu.Unlock()
		return false
	}
	ex.assistant = s.conv.AddAssistantMessage()
	s.state = StateStreaming
	snap := ex.assistant.Snapshot()
	s.mu.Unlock()

	s.notify(Update{RequestID: ex.id, State: StateStreaming, Message: &snap})
	return true
}

func (s *Session) applyToken(ex *exchange, text string) bool {
	s.mu.Lock()
	if s.abandonedLocked(ex) {
		s.mu.Unlock()
		return false
	}
	ex.assistant.AppendToken(text)
	s.tracker.OnTokenObserved(ex.id)
	if text != "" && !ex.sawToken {
		ex.sawToken = true
		s.tracker.OnFirstToken(ex.id, s.now())
	}
	snap := ex.assistant.Snapshot()
	s.mu.Unlock()

	s.notify(Update{RequestID: ex.id, State: StateStreaming, Message: &snap})
	return true
}

func (s *Session) applySources(ex *exchange, sources []string) bool {
	s.mu.Lock()
	if s.abandonedLocked(ex) {
		s.mu.Unlock()
		return false
	}
	ex.assistant.SetSources(sources)
	snap := ex.assistant.Snapshot()
	s.mu.Unlock()

	s.notify(Update{RequestID: ex.id, State: StateStreaming, Message: &snap})
	return true
}

func (s *Session) complete(ex *exchange) (Result, error) {
	s.mu.Lock()
	if s.abandonedLocked(ex) {
		s.mu.Unlock()
		return s.abandon(ex)
	}
	ex.assistant.Freeze()
	metrics, err := s.tracker.Finish(ex.id, s.now())
	s.state = StateCompleted
	snap := ex.assistant.Snapshot()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("request metrics missing", zap.String("request_id", ex.id), zap.Error(err))
	} else {
		s.reporter.ReportMetrics(metrics.Report())
		s.logger.Debug("chat request completed",
			zap.String("request_id", ex.id),
			zap.Int("tokens_out", metrics.OutputTokens),
			zap.Duration("ttft", metrics.TimeToFirstToken),
			zap.Duration("total", metrics.TotalResponseTime),
		)
	}

	s.notify(Update{RequestID: ex.id, State: StateCompleted, Message: &snap})
	return Result{RequestID: ex.id, State: StateCompleted, Message: snap, Metrics: metrics}, nil
}

// fail moves to Errored. Network failures leave the apology as the assistant
// message; API failures leave no assistant message.
func (s *Session) fail(ex *exchange, typ telemetry.ErrorType, status int, cause error) (Result, error) {
	s.mu.Lock()
	if s.abandonedLocked(ex) {
		s.mu.Unlock()
		return s.abandon(ex)
	}
	s.state = StateErrored
	if typ == telemetry.ErrorTypeNetwork {
		if ex.assistant == nil {
			ex.assistant = model.NewAssistantMessage()
			s.conv.AddMessage(ex.assistant)
		}
		ex.assistant.Fail(Apology)
	}
	var snap model.Message
	var msg *model.Message
	if ex.assistant != nil {
		snap = ex.assistant.Snapshot()
		msg = &snap
	}
	s.mu.Unlock()

	exErr := &ExchangeError{Type: typ, StatusCode: status, Cause: cause}
	s.reporter.ReportError(telemetry.ErrorReport{
		ErrorType:   typ,
		StatusCode:  status,
		InputLength: utf8.RuneCountInString(ex.input),
		Timestamp:   s.now(),
	})
	s.logger.Error("chat request failed",
		zap.String("request_id", ex.id),
		zap.String("error_type", string(typ)),
		zap.Int("status_code", status),
		zap.Error(cause),
	)

	s.notify(Update{RequestID: ex.id, State: StateErrored, Message: msg, Err: exErr})
	return Result{RequestID: ex.id, State: StateErrored, Message: snap}, exErr
}

// abandon returns the session to Idle without reporting anything.
func (s *Session) abandon(ex *exchange) (Result, error) {
	s.mu.Lock()
	closed := s.closed
	var snap model.Message
	if !closed {
		if ex.assistant != nil {
			ex.assistant.Freeze()
			snap = ex.assistant.Snapshot()
		}
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.logger.Debug("chat request abandoned", zap.String("request_id", ex.id), zap.Bool("closed", closed))
	if closed {
		return Result{RequestID: ex.id, State: StateIdle}, ErrClosed
	}

	s.notify(Update{RequestID: ex.id, State: StateIdle})
	return Result{RequestID: ex.id, State: StateIdle, Message: snap}, ex.parent.Err()
}

// notify calls the observer unless the session has closed.
func (s *Session) notify(u Update) {
	if s.observer == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.observer(u)
}
