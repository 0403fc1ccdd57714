// internal/browser/pacing.go
package browser

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// PaceProfile parameterizes how quickly a simulated user thinks and types.
// All durations are millisecond means with normally distributed jitter.
type PaceProfile struct {
	ThinkMeanMs   float64
	ThinkStdDevMs float64
	KeyMeanMs     float64
	KeyStdDevMs   float64
	// FatigueIncrease is added to the fatigue level per unit of action
	// intensity; FatigueRecovery is subtracted per second of pause.
	FatigueIncrease float64
	FatigueRecovery float64
}

// DefaultPaceProfile is a mid-literacy user: some deliberation before each
// action, around 70ms between keystrokes.
func DefaultPaceProfile() PaceProfile {
	return PaceProfile{
		ThinkMeanMs:     550,
		ThinkStdDevMs:   180,
		KeyMeanMs:       70,
		KeyStdDevMs:     28,
		FatigueIncrease: 0.02,
		FatigueRecovery: 0.05,
	}
}

// PaceProfileFor maps a persona's tech literacy onto a pace profile.
func PaceProfileFor(techLiteracy string) PaceProfile {
	p := DefaultPaceProfile()
	switch techLiteracy {
	case "beginner":
		p.ThinkMeanMs = 950
		p.ThinkStdDevMs = 320
		p.KeyMeanMs = 140
		p.KeyStdDevMs = 55
		p.FatigueIncrease = 0.035
	case "advanced":
		p.ThinkMeanMs = 280
		p.ThinkStdDevMs = 90
		p.KeyMeanMs = 45
		p.KeyStdDevMs = 15
		p.FatigueRecovery = 0.08
	}
	return p
}

// Pacer produces human-plausible delays for one browser session. Fatigue
// accumulates with every action and drains during pauses, stretching the
// delays as the session wears on. A Perlin noise stream adds slow drift so
// the cadence wanders instead of oscillating around a fixed mean.
type Pacer struct {
	mu      sync.Mutex
	profile PaceProfile
	rng     *rand.Rand
	noise   *perlin.Perlin
	noiseT  float64
	fatigue float64
}

// NewPacer seeds the pacer deterministically from the session id, so a rerun
// of the same session paces identically.
func NewPacer(sessionID string, profile PaceProfile) *Pacer {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	seed := int64(h.Sum64())
	return &Pacer{
		profile: profile,
		rng:     rand.New(rand.NewSource(seed)),
		noise:   perlin.NewPerlin(2, 2, 3, seed),
	}
}

// ThinkTime returns the pre-action deliberation pause. The pause itself
// counts as rest, so fatigue drains by its length.
func (p *Pacer) ThinkTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	fatigueFactor := 1.0 + p.fatigue
	drift := 1.0 + 0.25*p.nextNoise()
	ms := fatigueFactor * drift * (p.profile.ThinkMeanMs + p.rng.NormFloat64()*p.profile.ThinkStdDevMs)
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	p.recoverLocked(d)
	return d
}

// KeystrokeDelay returns the flight time before the next typed character.
// Fatigue stretches inter-key delays, though less than it stretches thought.
func (p *Pacer) KeystrokeDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	fatigueFactor := 1.0 + p.fatigue*0.3
	ms := fatigueFactor * (p.profile.KeyMeanMs + p.rng.NormFloat64()*p.profile.KeyStdDevMs)
	floor := p.profile.KeyMeanMs * 0.5
	if ms < floor {
		ms = floor
	}
	return time.Duration(ms) * time.Millisecond
}

// NoteAction raises the fatigue level after an action. Intensity is a
// normalized load, roughly 0.5 for a click and 1.0 for typing a long value.
func (p *Pacer) NoteAction(intensity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatigue = math.Min(1.0, p.fatigue+p.profile.FatigueIncrease*intensity)
}

// Fatigue reports the current fatigue level in [0, 1].
func (p *Pacer) Fatigue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatigue
}

func (p *Pacer) recoverLocked(pause time.Duration) {
	p.fatigue = math.Max(0, p.fatigue-p.profile.FatigueRecovery*pause.Seconds())
}

// nextNoise advances the drift stream and returns a value in roughly [-1, 1].
func (p *Pacer) nextNoise() float64 {
	p.noiseT += 0.1
	return p.noise.Noise1D(p.noiseT)
}
