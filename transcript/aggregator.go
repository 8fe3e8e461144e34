// Package transcript assembles streamed transcription fragments into
// completed conversation turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Turn is one completed utterance.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Aggregator keeps one fragment buffer per speaker and an append-only list of
// completed turns.
type Aggregator struct {
	mu      sync.Mutex
	pending map[Speaker]*strings.Builder
	turns   []Turn
	now     func() time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		pending: map[Speaker]*strings.Builder{
			SpeakerUser:  {},
			SpeakerModel: {},
		},
		now: time.Now,
	}
}

// AppendFragment appends text to the speaker's pending buffer in arrival order.
func (a *Aggregator) AppendFragment(speaker Speaker, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.pending[speaker]
	if !ok {
		b = &strings.Builder{}
		a.pending[speaker] = b
	}
	b.WriteString(text)
}

// FlushIfComplete does nothing unless complete is true. Otherwise it trims each
// pending buffer, appends the non-empty ones as turns (user before model),
// clears both buffers, and returns the turns it appended.
func (a *Aggregator) FlushIfComplete(complete bool) []Turn {
	if !complete {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	at := a.now()
	var flushed []Turn
	for _, speaker := range []Speaker{SpeakerUser, SpeakerModel} {
		b := a.pending[speaker]
		text := strings.TrimSpace(b.String())
		b.Reset()
		if text == "" {
			continue
		}
		flushed = append(flushed, Turn{Speaker: speaker, Text: text, At: at})
	}
	a.turns = append(a.turns, flushed...)
	return flushed
}

// Pending returns the text buffered for speaker since the last completion.
func (a *Aggregator) Pending(speaker Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.pending[speaker]; ok {
		return b.String()
	}
	return ""
}

// Turns returns a copy of the completed turns in order.
func (a *Aggregator) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Reset drops pending fragments and the transcript.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.pending {
		b.Reset()
	}
	a.turns = nil
}
