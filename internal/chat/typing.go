package chat

import (
	"sync"
	"time"

	"agency-chat/internal/models"
)

const (
	// TypingDelay is the idle time after the last keystroke before STOP is sent.
	TypingDelay = 3 * time.Second
	// TypingTimeout clears a remote indicator whose STOP never arrived.
	TypingTimeout = 6 * time.Second
)

// Timer is the part of *time.Timer the typing state machines use.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the typing state machines.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
func SystemClock() Clock { return systemClock{} }

// TypingDebouncer turns keystrokes into TYPING_START / TYPING_STOP signals.
// START is sent on the first keystroke of a burst and again every delay while
// the burst continues, so receivers with a safety timeout keep the indicator.
type TypingDebouncer struct {
	mu         sync.Mutex
	clock      Clock
	delay      time.Duration
	emit       func(models.EventType)
	typing     bool
	lastStart  time.Time
	timer      Timer
	generation uint64
}

func NewTypingDebouncer(clock Clock, delay time.Duration, emit func(models.EventType)) *TypingDebouncer {
	if delay <= 0 {
		delay = TypingDelay
	}
	return &TypingDebouncer{clock: clock, delay: delay, emit: emit}
}

// Input feeds the current compose text.
func (d *TypingDebouncer) Input(text string) {
	if text == "" {
		d.stop()
		return
	}

	d.mu.Lock()
	now := d.clock.Now()
	start := !d.typing || now.Sub(d.lastStart) >= d.delay
	d.typing = true
	if start {
		d.lastStart = now
	}
	d.disarmLocked()
	gen := d.generation
	d.timer = d.clock.AfterFunc(d.delay, func() { d.expire(gen) })
	d.mu.Unlock()

	if start {
		d.emit(models.EventTypingStart)
	}
}

// Cancel stops the pending timer and sends STOP if a burst was active.
// Send calls it so the indicator clears together with the message.
func (d *TypingDebouncer) Cancel() {
	d.stop()
}

// Typing reports whether a burst is active.
func (d *TypingDebouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

func (d *TypingDebouncer) stop() {
	d.mu.Lock()
	wasTyping := d.typing
	d.typing = false
	d.disarmLocked()
	d.mu.Unlock()

	if wasTyping {
		d.emit(models.EventTypingStop)
	}
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.generation || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(models.EventTypingStop)
}

// disarmLocked invalidates any armed timer, including one already firing.
func (d *TypingDebouncer) disarmLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
}

// TypingIndicator is the receiving side: it shows who is typing and hides
// the indicator once timeout passes without a fresh START.
type TypingIndicator struct {
	mu       sync.Mutex
	clock    Clock
	timeout  time.Duration
	selfID   string
	active   bool
	userID   string
	userName string
	lastSeen time.Time
}

func NewTypingIndicator(clock Clock, selfID string, timeout time.Duration) *TypingIndicator {
	if timeout <= 0 {
		timeout = TypingTimeout
	}
	return &TypingIndicator{clock: clock, selfID: selfID, timeout: timeout}
}

// Apply records a relayed typing event. Events from selfID are ignored.
func (i *TypingIndicator) Apply(t models.EventType, p models.TypingPayload) {
	if p.UserID == i.selfID {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	switch t {
	case models.EventTypingStart:
		i.active = true
		i.userID = p.UserID
		i.userName = p.UserName
		i.lastSeen = i.clock.Now()
	case models.EventTypingStop:
		i.active = false
	}
}

// Typing returns the display name of the remote typist, if any.
func (i *TypingIndicator) Typing() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active {
		return "", false
	}
	if i.clock.Now().Sub(i.lastSeen) > i.timeout {
		i.active = false
		return "", false
	}
	return i.userName, true
}
