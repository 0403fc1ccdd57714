// internal/browser/pacing_test.go
package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerIsDeterministicPerSession(t *testing.T) {
	a := NewPacer("session-1", DefaultPaceProfile())
	b := NewPacer("session-1", DefaultPaceProfile())

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.ThinkTime(), b.ThinkTime())
		assert.Equal(t, a.KeystrokeDelay(), b.KeystrokeDelay())
	}

	c := NewPacer("session-2", DefaultPaceProfile())
	same := true
	for i := 0; i < 20; i++ {
		if a.ThinkTime() != c.ThinkTime() {
			same = false
		}
	}
	assert.False(t, same, "different sessions should pace differently")
}

func TestPacerFatigueStretchesDelays(t *testing.T) {
	p := NewPacer("session-1", PaceProfile{
		ThinkMeanMs: 500,
		KeyMeanMs:   70,
		// No jitter and no recovery isolates the fatigue effect.
		FatigueIncrease: 0.25,
	})

	rested := p.KeystrokeDelay()
	for i := 0; i < 4; i++ {
		p.NoteAction(1.0)
	}
	assert.Equal(t, 1.0, p.Fatigue())
	tired := p.KeystrokeDelay()
	assert.Greater(t, tired, rested)
}

func TestPacerRecoversDuringThought(t *testing.T) {
	p := NewPacer("session-1", PaceProfile{
		ThinkMeanMs:     2000,
		FatigueIncrease: 0.5,
		FatigueRecovery: 0.2,
	})
	p.NoteAction(1.0)
	before := p.Fatigue()
	p.ThinkTime()
	assert.Less(t, p.Fatigue(), before)
}

func TestPacerKeystrokeFloor(t *testing.T) {
	p := NewPacer("session-1", PaceProfile{KeyMeanMs: 60, KeyStdDevMs: 500})
	floor := 30 * time.Millisecond
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, p.KeystrokeDelay(), floor)
	}
}

func TestPaceProfileFor(t *testing.T) {
	beginner := PaceProfileFor("beginner")
	advanced := PaceProfileFor("advanced")
	def := PaceProfileFor("intermediate")

	assert.Greater(t, beginner.ThinkMeanMs, def.ThinkMeanMs)
	assert.Less(t, advanced.KeyMeanMs, def.KeyMeanMs)
	assert.Equal(t, DefaultPaceProfile(), def)
}
