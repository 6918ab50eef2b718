package game

import (
	"math"
	"time"
)

// Phase is the game lifecycle state.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"    // no modifications allowed
	PhaseActive   Phase = "ACTIVE"   // modifications allowed, optional countdown
	PhaseFinished Phase = "FINISHED" // countdown elapsed, awaiting reset
)

// MaxTimerMinutes bounds a countdown so its millisecond end time fits in int64.
const MaxTimerMinutes = 1e6

// TimerState holds the countdown in Unix milliseconds. All fields are nil
// when no countdown runs.
type TimerState struct {
	StartTime *int64 `json:"startTime"`
	Duration  *int64 `json:"duration"`
	EndTime   *int64 `json:"endTime"`
}

// Running reports whether a countdown is set.
func (t TimerState) Running() bool {
	return t.EndTime != nil
}

// Scheduler runs the recurring countdown task. Schedule must arrange for
// Engine.Tick(gen) to be invoked every interval on the state goroutine until
// Cancel(gen) is called.
type Scheduler interface {
	Schedule(gen uint64, every time.Duration)
	Cancel(gen uint64)
}

// PhaseMachine tracks LOBBY -> ACTIVE -> FINISHED and the optional countdown.
// At most one countdown generation is live; ticks for any other generation
// are ignored, so a cancelled countdown can never broadcast.
type PhaseMachine struct {
	phase Phase
	timer TimerState

	live    uint64 // generation of the running countdown, 0 when none
	lastGen uint64

	every time.Duration
	sched Scheduler
}

// NewPhaseMachine starts in LOBBY. every is the countdown tick interval.
func NewPhaseMachine(sched Scheduler, every time.Duration) *PhaseMachine {
	if every <= 0 {
		every = time.Second
	}
	return &PhaseMachine{phase: PhaseLobby, every: every, sched: sched}
}

// Phase returns the current phase.
func (m *PhaseMachine) Phase() Phase { return m.phase }

// Timer returns a copy of the countdown fields.
func (m *PhaseMachine) Timer() TimerState {
	return TimerState{
		StartTime: copyInt64(m.timer.StartTime),
		Duration:  copyInt64(m.timer.Duration),
		EndTime:   copyInt64(m.timer.EndTime),
	}
}

// Generation returns the live countdown generation, 0 when none runs.
func (m *PhaseMachine) Generation() uint64 { return m.live }

// StartGame moves to ACTIVE without a countdown.
func (m *PhaseMachine) StartGame() (Effects, error) {
	if m.phase == PhaseActive {
		return nil, ErrGameActive
	}
	m.phase = PhaseActive
	return Effects{toAll(EventPhaseChange, PhaseChanged{Phase: m.phase})}, nil
}

// StartTimer moves to ACTIVE with a countdown of the given minutes.
func (m *PhaseMachine) StartTimer(minutes float64, now time.Time) (Effects, error) {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 || minutes > MaxTimerMinutes {
		return nil, ErrInvalidTime
	}
	if m.phase == PhaseActive {
		return nil, ErrGameActive
	}
	durationMs := int64(minutes * 60 * 1000)
	if durationMs <= 0 {
		return nil, ErrInvalidTime
	}

	m.cancel()

	start := now.UnixMilli()
	end := start + durationMs
	m.timer = TimerState{StartTime: &start, Duration: &durationMs, EndTime: &end}
	m.phase = PhaseActive

	m.lastGen++
	m.live = m.lastGen
	if m.sched != nil {
		m.sched.Schedule(m.live, m.every)
	}

	return Effects{
		toAll(EventPhaseChange, PhaseChanged{Phase: m.phase}),
		toAll(EventTimerUpdate, TimerUpdate{
			TimeLeft:  durationMs,
			EndTime:   end,
			StartTime: copyInt64(&start),
			Duration:  copyInt64(&durationMs),
		}),
	}, nil
}

// Tick advances the countdown for generation gen. expired is true when this
// tick moved the game to FINISHED.
func (m *PhaseMachine) Tick(gen uint64, now time.Time) (out Effects, expired bool) {
	if gen == 0 || gen != m.live || !m.timer.Running() {
		return nil, false
	}

	end := *m.timer.EndTime
	timeLeft := end - now.UnixMilli()
	if timeLeft > 0 {
		return Effects{toAll(EventTimerUpdate, TimerUpdate{TimeLeft: timeLeft, EndTime: end})}, false
	}

	m.cancel()
	m.phase = PhaseFinished
	m.timer = TimerState{}
	return Effects{
		toAll(EventPhaseChange, PhaseChanged{Phase: m.phase}),
		toAll(EventTimerEnd, nil),
	}, true
}

// Reset cancels any countdown and returns to LOBBY.
func (m *PhaseMachine) Reset() Effects {
	m.cancel()
	m.timer = TimerState{}
	m.phase = PhaseLobby
	return Effects{
		toAll(EventPhaseChange, PhaseChanged{Phase: m.phase}),
		toAll(EventTimerEnd, nil),
	}
}

// Stop cancels the countdown without changing the phase. Used on shutdown.
func (m *PhaseMachine) Stop() {
	m.cancel()
}

func (m *PhaseMachine) cancel() {
	if m.live == 0 {
		return
	}
	if m.sched != nil {
		m.sched.Cancel(m.live)
	}
	m.live = 0
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
