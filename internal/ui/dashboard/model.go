// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/storage"
)

// =============================================================================
// MESSAGES
// =============================================================================

// SampleMsg carries one poll result.
type SampleMsg struct {
	Snapshot   detect.Snapshot
	Err        error
	Summary    *storage.Summary
	SampledAt  time.Time
	Generation int
}

// TickMsg asks the model to poll again.
type TickMsg struct {
	Time       time.Time
	Generation int
}

// =============================================================================
// MODEL
// =============================================================================

const (
	defaultBarWidth = 40
	minBarWidth     = 10
)

// Model is the bubbletea model for the hardware monitor.
type Model struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	title string
	width int

	utilBar progress.Model
	memBar  progress.Model

	snapshot  detect.Snapshot
	summary   *storage.Summary
	lastErr   error
	updatedAt time.Time
	samples   int
	failures  int

	// generation invalidates ticks scheduled before a manual refresh so
	// only one poll loop is ever live.
	generation int
	fetching   bool
	quitting   bool
}

// Option configures a Model.
type Option func(*Model)

// WithTitle sets the header text.
func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

// WithFetchTimeout bounds each poll.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// New creates a dashboard polling source every interval. A non-positive
// interval uses detect.DefaultPollInterval.
func New(source Source, interval time.Duration, opts ...Option) Model {
	if interval <= 0 {
		interval = detect.DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		source:   source,
		interval: interval,
		timeout:  5 * time.Second,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		title:    "runnerchat monitor",
		utilBar:  newBar(),
		memBar:   newBar(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func newBar() progress.Model {
	return progress.New(
		progress.WithGradient(gradientStart, gradientEnd),
		progress.WithWidth(defaultBarWidth),
		progress.WithoutPercentage(),
	)
}

// Init starts the first poll.
func (m Model) Init() tea.Cmd {
	return m.fetch(m.generation)
}

// Update handles key presses, resizes, ticks and poll results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m.quit()
		case "r":
			if m.quitting || m.fetching {
				return m, nil
			}
			m.generation++
			m.fetching = true
			return m, m.fetch(m.generation)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		bar := max(min(msg.Width-30, defaultBarWidth), minBarWidth)
		m.utilBar.Width = bar
		m.memBar.Width = bar
		return m, nil

	case TickMsg:
		if m.quitting || msg.Generation != m.generation {
			return m, nil
		}
		m.fetching = true
		return m, m.fetch(msg.Generation)

	case SampleMsg:
		if m.quitting {
			return m, nil
		}
		m.fetching = false
		m.samples++
		m.updatedAt = msg.SampledAt
		if msg.Err != nil {
			m.failures++
			m.lastErr = msg.Err
			m.snapshot = detect.Zero()
		} else {
			m.lastErr = nil
			m.snapshot = msg.Snapshot
		}
		if msg.Summary != nil {
			m.summary = msg.Summary
		}
		if msg.Generation != m.generation {
			return m, nil
		}
		return m, m.tick(msg.Generation)
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.cancel()
	return m, tea.Quit
}

// fetch polls the source off the UI goroutine.
func (m Model) fetch(generation int) tea.Cmd {
	source, parent, timeout, now := m.source, m.ctx, m.timeout, m.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		msg := SampleMsg{Generation: generation}
		msg.Snapshot, msg.Err = source.Snapshot(ctx)
		if ss, ok := source.(SummarySource); ok && msg.Err == nil {
			if sum, err := ss.Summary(ctx); err == nil {
				msg.Summary = &sum
			} else if !errors.Is(err, ErrNoSummary) {
				msg.Err = err
			}
		}
		msg.SampledAt = now()
		return msg
	}
}

func (m Model) tick(generation int) tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t, Generation: generation}
	})
}

// Snapshot returns the most recent sample.
func (m Model) Snapshot() detect.Snapshot {
	return m.snapshot
}

// Err returns the last poll error, nil after a successful poll.
func (m Model) Err() error {
	return m.lastErr
}

// Quitting reports whether the user has quit.
func (m Model) Quitting() bool {
	return m.quitting
}

// Run starts the dashboard full-screen and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		fm.cancel()
	} else {
		m.cancel()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
