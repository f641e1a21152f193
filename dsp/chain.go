// Package dsp implements the stateful voice filter chain applied to
// captured audio before encoding.
//
// The chain runs three stages in a fixed order: a single-pole high-pass
// filter (removes rumble and handling noise below the voice band), a
// single-pole low-pass filter (limits the band to speech), and an
// automatic gain control stage with a final peak limiter. Filter state
// persists across calls per channel, so the chain must be fed a
// continuous sample stream; coefficients are recomputed only when the
// sample rate changes.
//
// Process is called from the real-time capture callback and therefore
// never logs or allocates on the steady-state path.
package dsp

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// AGC tuning. The attack time constant is asymmetrically faster than the
// release, with a hold window between them; reversing this produces
// audible pumping instead of smooth leveling.
const (
	agcAttackTime   = 0.0001 // seconds
	agcReleaseTime  = 0.002  // seconds
	agcHoldTime     = 0.001  // seconds
	agcTriggerLevel = 0.003  // RMS below this leaves the gain untouched
	agcPeakLimit    = 0.75   // hard ceiling as a fraction of full scale
	agcBlockCount   = 10     // gain update blocks per Process call
)

// ChainConfig holds the construction parameters for a VoiceChain.
type ChainConfig struct {
	// Channels is the interleaved channel count (1 = mono).
	Channels int
	// FrameSamples sizes the internal work buffer so the steady-state
	// Process path never allocates. Calls with more samples grow the
	// buffer once.
	FrameSamples int
	// HighPassCutoff in Hz. Voice default 300.
	HighPassCutoff float64
	// LowPassCutoff in Hz. Voice default 3400.
	LowPassCutoff float64
	// AGCTargetDb is the target level in dBFS. Voice default -12.
	AGCTargetDb float64
	// AGCMaxGainDb caps amplification in dB. Voice default 12.
	AGCMaxGainDb float64
}

// DefaultChainConfig returns the voice-band tuning used by the capture
// pipeline.
func DefaultChainConfig(channels, frameSamples int) ChainConfig {
	return ChainConfig{
		Channels:       channels,
		FrameSamples:   frameSamples,
		HighPassCutoff: 300.0,
		LowPassCutoff:  3400.0,
		AGCTargetDb:    -12.0,
		AGCMaxGainDb:   12.0,
	}
}

// VoiceChain is the per-stream filter state: high-pass, low-pass and AGC,
// each keeping per-channel history between calls.
type VoiceChain struct {
	channels int

	hpCutoff  float64
	lpCutoff  float64
	targetDb  float64
	maxGainDb float64

	// High-pass: y[n] = alpha * (y[n-1] + x[n] - x[n-1]) per channel.
	hpState  []float64
	hpLastIn []float64
	hpAlpha  float64
	hpRate   int

	// Low-pass: y[n] = alpha*x[n] + (1-alpha)*y[n-1] per channel.
	lpState []float64
	lpAlpha float64
	lpRate  int

	// AGC per-channel gain plus shared hold counter.
	agcGain        []float64
	agcHoldCounter int
	agcAttack      float64
	agcRelease     float64
	agcHoldSamples int
	agcRate        int

	work []float64
}

// NewVoiceChain creates a filter chain with all per-channel state at
// rest and unity gain.
//
// Returns:
//   - *VoiceChain: new chain instance
//   - error: validation error for invalid channel count or cutoffs
func NewVoiceChain(cfg ChainConfig) (*VoiceChain, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", cfg.Channels)
	}
	if cfg.HighPassCutoff <= 0 || cfg.LowPassCutoff <= 0 {
		return nil, fmt.Errorf("cutoff frequencies must be positive, got hp=%f lp=%f",
			cfg.HighPassCutoff, cfg.LowPassCutoff)
	}
	if cfg.HighPassCutoff >= cfg.LowPassCutoff {
		return nil, fmt.Errorf("high-pass cutoff %f must sit below low-pass cutoff %f",
			cfg.HighPassCutoff, cfg.LowPassCutoff)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewVoiceChain",
		"channels":    cfg.Channels,
		"hp_cutoff":   cfg.HighPassCutoff,
		"lp_cutoff":   cfg.LowPassCutoff,
		"agc_target":  cfg.AGCTargetDb,
		"agc_maxgain": cfg.AGCMaxGainDb,
	}).Info("Creating voice filter chain")

	work := cfg.FrameSamples
	if work < 0 {
		work = 0
	}

	chain := &VoiceChain{
		channels:  cfg.Channels,
		hpCutoff:  cfg.HighPassCutoff,
		lpCutoff:  cfg.LowPassCutoff,
		targetDb:  cfg.AGCTargetDb,
		maxGainDb: cfg.AGCMaxGainDb,
		hpState:   make([]float64, cfg.Channels),
		hpLastIn:  make([]float64, cfg.Channels),
		lpState:   make([]float64, cfg.Channels),
		agcGain:   make([]float64, cfg.Channels),
		work:      make([]float64, work),
	}
	for ch := 0; ch < cfg.Channels; ch++ {
		chain.agcGain[ch] = 1.0
	}
	return chain, nil
}

// Process runs samples through high-pass, low-pass and AGC in place.
//
// samples holds interleaved int16 PCM (frames * channels values). The
// chain converts to a normalized float range, filters, and converts back
// with hard clamping to the int16 range. State persists across calls;
// coefficients are recomputed only when sampleRate differs from the
// previous call.
func (c *VoiceChain) Process(samples []int16, sampleRate int) {
	numSamples := len(samples)
	if numSamples == 0 || sampleRate <= 0 {
		return
	}

	numFrames := numSamples / c.channels
	if numFrames == 0 {
		return
	}

	if len(c.work) < numSamples {
		c.work = make([]float64, numSamples)
	}
	work := c.work[:numSamples]

	for i, s := range samples {
		work[i] = float64(s) / 32768.0
	}

	c.updateCoefficients(sampleRate)

	c.applyHighPass(work, numFrames)
	c.applyLowPass(work, numFrames)
	c.applyAGC(work, numFrames)

	for i, v := range work {
		clamped := math.Max(-1.0, math.Min(1.0, v))
		samples[i] = int16(clamped * 32767.0)
	}
}

// updateCoefficients rederives filter coefficients when the sample rate
// changes. Kept out of the per-sample loops so the cost is paid once per
// rate change, not per call.
func (c *VoiceChain) updateCoefficients(sampleRate int) {
	if c.hpRate != sampleRate {
		c.hpRate = sampleRate
		dt := 1.0 / float64(sampleRate)
		rc := 1.0 / (2.0 * math.Pi * c.hpCutoff)
		c.hpAlpha = rc / (rc + dt)
	}
	if c.lpRate != sampleRate {
		c.lpRate = sampleRate
		dt := 1.0 / float64(sampleRate)
		rc := 1.0 / (2.0 * math.Pi * c.lpCutoff)
		c.lpAlpha = dt / (rc + dt)
	}
	if c.agcRate != sampleRate {
		c.agcRate = sampleRate
		c.agcAttack = 1.0 - math.Exp(-1.0/(agcAttackTime*float64(sampleRate)))
		c.agcRelease = 1.0 - math.Exp(-1.0/(agcReleaseTime*float64(sampleRate)))
		c.agcHoldSamples = int(agcHoldTime * float64(sampleRate))
	}
}

func (c *VoiceChain) applyHighPass(samples []float64, numFrames int) {
	alpha := c.hpAlpha

	// The recurrence needs the raw previous input, which the in-place
	// write destroys, so it is carried in a local alongside the previous
	// output.
	for ch := 0; ch < c.channels; ch++ {
		prevIn := c.hpLastIn[ch]
		prevOut := c.hpState[ch]
		for i := 0; i < numFrames; i++ {
			idx := i*c.channels + ch
			x := samples[idx]
			y := alpha * (prevOut + x - prevIn)
			samples[idx] = y
			prevIn = x
			prevOut = y
		}
		c.hpLastIn[ch] = prevIn
		c.hpState[ch] = prevOut
	}
}

func (c *VoiceChain) applyLowPass(samples []float64, numFrames int) {
	alpha := c.lpAlpha
	oneMinusAlpha := 1.0 - alpha

	for ch := 0; ch < c.channels; ch++ {
		samples[ch] = alpha*samples[ch] + oneMinusAlpha*c.lpState[ch]
	}

	for i := 1; i < numFrames; i++ {
		for ch := 0; ch < c.channels; ch++ {
			idx := i*c.channels + ch
			prevIdx := (i-1)*c.channels + ch
			samples[idx] = alpha*samples[idx] + oneMinusAlpha*samples[prevIdx]
		}
	}

	for ch := 0; ch < c.channels; ch++ {
		c.lpState[ch] = samples[(numFrames-1)*c.channels+ch]
	}
}

// applyAGC adjusts gain per sub-block: RMS above the trigger level pulls
// the gain toward target/rms (capped at max gain) with the fast attack
// coefficient; quieter blocks hold the gain until the hold counter
// expires, then ease it back with the slow release coefficient. A final
// pass scales any channel whose peak exceeds the ceiling so the peak
// lands exactly on it.
func (c *VoiceChain) applyAGC(samples []float64, numFrames int) {
	targetLinear := math.Pow(10.0, c.targetDb/10.0)
	maxGainLinear := math.Pow(10.0, c.maxGainDb/10.0)

	blockSize := numFrames / agcBlockCount
	if blockSize < 1 {
		blockSize = 1
	}

	for block := 0; block < agcBlockCount; block++ {
		blockStart := block * blockSize
		blockEnd := (block + 1) * blockSize
		if block == agcBlockCount-1 {
			blockEnd = numFrames // last block absorbs the remainder
		}
		if blockEnd > numFrames {
			blockEnd = numFrames
		}
		blockFrames := blockEnd - blockStart
		if blockFrames <= 0 {
			continue
		}

		for ch := 0; ch < c.channels; ch++ {
			sumSquares := 0.0
			for i := blockStart; i < blockEnd; i++ {
				v := samples[i*c.channels+ch]
				sumSquares += v * v
			}
			rms := math.Sqrt(sumSquares / float64(blockFrames))

			targetGain := c.agcGain[ch]
			if rms > 1e-9 && rms > agcTriggerLevel {
				targetGain = math.Min(targetLinear/rms, maxGainLinear)
			}

			if targetGain < c.agcGain[ch] {
				// Attack: reduce gain quickly and arm the hold window.
				c.agcGain[ch] = c.agcAttack*targetGain + (1.0-c.agcAttack)*c.agcGain[ch]
				c.agcHoldCounter = c.agcHoldSamples
			} else {
				if c.agcHoldCounter > 0 {
					c.agcHoldCounter -= blockFrames
				} else {
					c.agcGain[ch] = c.agcRelease*targetGain + (1.0-c.agcRelease)*c.agcGain[ch]
				}
			}

			for i := blockStart; i < blockEnd; i++ {
				samples[i*c.channels+ch] *= c.agcGain[ch]
			}
		}
	}

	for ch := 0; ch < c.channels; ch++ {
		peak := 0.0
		for i := 0; i < numFrames; i++ {
			abs := math.Abs(samples[i*c.channels+ch])
			if abs > peak {
				peak = abs
			}
		}
		if peak > agcPeakLimit {
			scale := agcPeakLimit / peak
			for i := 0; i < numFrames; i++ {
				samples[i*c.channels+ch] *= scale
			}
		}
	}
}

// CurrentGain returns the AGC gain for a channel, for diagnostics.
func (c *VoiceChain) CurrentGain(channel int) float64 {
	if channel < 0 || channel >= c.channels {
		return 0
	}
	return c.agcGain[channel]
}

// Channels returns the configured channel count.
func (c *VoiceChain) Channels() int {
	return c.channels
}
