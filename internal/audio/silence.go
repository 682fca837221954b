package audio

import (
	"math"

	"github.com/sublate/sublate/pkg/logger"
)

// SilenceConfig represents silence detection parameters
type SilenceConfig struct {
	AnalysisWindowMs int     // RMS window length
	MinSilenceMs     int     // minimum run length to count as silence
	ThresholdRatio   float64 // silence threshold as a fraction of global RMS
}

// SilenceDetector scans PCM samples for sustained low-energy regions
type SilenceDetector struct {
	config SilenceConfig
	logger *logger.Logger
}

// NewSilenceDetector creates a new silence detector
func NewSilenceDetector(config SilenceConfig, logger *logger.Logger) *SilenceDetector {
	return &SilenceDetector{
		config: config,
		logger: logger.Named("silence-detector"),
	}
}

// Detect returns the sample indices of silence points, ascending. Each point
// marks the midpoint of one detected silent run. An empty signal yields an
// empty result; fully loud or fully silent signals are valid inputs.
func (d *SilenceDetector) Detect(pcm *PCM) []int {
	if pcm == nil || len(pcm.Samples) == 0 {
		return nil
	}

	windowSamples := pcm.SampleRate * d.config.AnalysisWindowMs / 1000
	if windowSamples <= 0 {
		windowSamples = 1
	}
	minRunSamples := pcm.SampleRate * d.config.MinSilenceMs / 1000

	threshold := globalRMS(pcm.Samples) * d.config.ThresholdRatio

	var points []int
	runStart := -1 // sample index where the current silent run began

	flush := func(runEnd int) {
		if runStart >= 0 && runEnd-runStart >= minRunSamples {
			points = append(points, runStart+(runEnd-runStart)/2)
		}
		runStart = -1
	}

	for start := 0; start < len(pcm.Samples); start += windowSamples {
		end := start + windowSamples
		if end > len(pcm.Samples) {
			end = len(pcm.Samples)
		}
		if windowRMS(pcm.Samples[start:end]) < threshold {
			if runStart < 0 {
				runStart = start
			}
		} else {
			flush(start)
		}
	}
	flush(len(pcm.Samples))

	d.logger.Debug("Silence detection complete",
		logger.Int("samples", len(pcm.Samples)),
		logger.Int("silence_points", len(points)),
		logger.Float64("threshold", threshold))

	return points
}

// globalRMS computes the RMS energy of the whole signal
func globalRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// windowRMS computes the RMS energy of one analysis window
func windowRMS(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(window)))
}
