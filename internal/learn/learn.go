// Package learn supplies the polled Kelly fraction and regime-adjusted entry
// thresholds. The engine polls a Provider every cycle; nothing is pushed.
package learn

import (
	"math"
	"sync"
)

// Thresholds are the minimum signal-quality gates a trade entry must clear.
type Thresholds struct {
	MinCoherence  float64
	MinConfidence float64
}

// Provider is the learning-service contract.
type Provider interface {
	KellyFraction() float64
	Thresholds() Thresholds
}

// Static returns fixed values straight from configuration.
type Static struct {
	Kelly float64
	Gates Thresholds
}

// KellyFraction returns the configured fraction.
func (s Static) KellyFraction() float64 { return s.Kelly }

// Thresholds returns the configured gates.
func (s Static) Thresholds() Thresholds { return s.Gates }

const (
	defaultKelly = 0.5
	minKelly     = 0.1
	maxKelly     = 0.8

	// Each consecutive losing trade raises the confidence gate by this much,
	// capped at maxTighten; one win resets the streak.
	tightenStep = 0.05
	maxTighten  = 0.15
)

// History estimates a half-Kelly fraction from recorded trade outcomes and
// tightens the entry thresholds while the book is on a losing streak.
type History struct {
	mu         sync.Mutex
	base       Thresholds
	minSamples int

	wins       int
	losses     int
	totalWin   float64
	totalLoss  float64
	loseStreak int
}

// NewHistory builds a history-backed provider over the given base thresholds.
func NewHistory(base Thresholds, minSamples int) *History {
	if minSamples <= 0 {
		minSamples = 10
	}
	return &History{base: base, minSamples: minSamples}
}

// RecordOutcome feeds one realized trade result into the estimator.
func (h *History) RecordOutcome(profit float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if profit > 0 {
		h.wins++
		h.totalWin += profit
		h.loseStreak = 0
	} else {
		h.losses++
		h.totalLoss += math.Abs(profit)
		h.loseStreak++
	}
}

// KellyFraction computes half-Kelly from the win rate and average win/loss,
// clamped into [0.1, 0.8]. Until enough samples exist it returns the default.
func (h *History) KellyFraction() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	attempted := h.wins + h.losses
	if attempted < h.minSamples {
		return defaultKelly
	}

	p := float64(h.wins) / float64(attempted)
	q := 1.0 - p
	if p <= 0 || q <= 0 {
		return minKelly * 2.5 // all-win or all-loss history is not trustworthy
	}

	avgWin := h.totalWin / float64(max(h.wins, 1))
	avgLoss := h.totalLoss / float64(max(h.losses, 1))
	if avgLoss <= 0 {
		return defaultKelly
	}

	b := avgWin / avgLoss
	kelly := (p*b - q) / b
	kelly /= 2 // half-Kelly

	return math.Max(minKelly, math.Min(kelly, maxKelly))
}

// Thresholds returns the base gates, tightened while losing.
func (h *History) Thresholds() Thresholds {
	h.mu.Lock()
	defer h.mu.Unlock()

	tighten := math.Min(float64(h.loseStreak)*tightenStep, maxTighten)
	return Thresholds{
		MinCoherence:  h.base.MinCoherence,
		MinConfidence: math.Min(1, h.base.MinConfidence+tighten),
	}
}
