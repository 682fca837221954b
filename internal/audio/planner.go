package audio

import (
	"github.com/sublate/sublate/pkg/logger"
)

// Chunk represents one contiguous audio segment handed to speech recognition
type Chunk struct {
	StartSample int
	EndSample   int // exclusive
	SampleRate  int
}

// StartSeconds returns the chunk start offset in seconds
func (c Chunk) StartSeconds() float64 {
	return float64(c.StartSample) / float64(c.SampleRate)
}

// DurationSeconds returns the chunk duration in seconds
func (c Chunk) DurationSeconds() float64 {
	return float64(c.EndSample-c.StartSample) / float64(c.SampleRate)
}

// PlannerConfig represents chunk planning parameters
type PlannerConfig struct {
	ChunkSeconds        int // ideal chunk duration
	SearchWindowSeconds int // silence point search radius around the ideal cut
}

// ChunkPlanner turns silence points into chunk boundaries
type ChunkPlanner struct {
	config PlannerConfig
	logger *logger.Logger
}

// NewChunkPlanner creates a new chunk planner
func NewChunkPlanner(config PlannerConfig, logger *logger.Logger) *ChunkPlanner {
	return &ChunkPlanner{
		config: config,
		logger: logger.Named("chunk-planner"),
	}
}

// Plan walks the signal forward, cutting at the silence point nearest each
// ideal boundary when one falls inside the search window, and exactly at the
// ideal boundary otherwise. The returned chunks are contiguous, gapless, and
// cover [0, totalSamples) exactly once.
func (p *ChunkPlanner) Plan(totalSamples, sampleRate int, silencePoints []int) []Chunk {
	if totalSamples <= 0 {
		return nil
	}

	chunkSamples := p.config.ChunkSeconds * sampleRate
	windowSamples := p.config.SearchWindowSeconds * sampleRate

	var chunks []Chunk
	current := 0
	for current < totalSamples {
		target := current + chunkSamples
		var boundary int
		if target >= totalSamples {
			// Terminal chunk
			boundary = totalSamples
		} else {
			boundary = p.nearestSilence(silencePoints, current, target, windowSamples)
		}
		chunks = append(chunks, Chunk{
			StartSample: current,
			EndSample:   boundary,
			SampleRate:  sampleRate,
		})
		current = boundary
	}

	p.logger.Debug("Chunk plan complete",
		logger.Int("total_samples", totalSamples),
		logger.Int("chunks", len(chunks)))

	return chunks
}

// nearestSilence picks the silence point closest to target within
// [target-window, target+window] that lies strictly past current. When no
// silence point qualifies, the cut lands exactly on target.
func (p *ChunkPlanner) nearestSilence(silencePoints []int, current, target, window int) int {
	best := -1
	bestDist := window + 1
	for _, point := range silencePoints {
		if point <= current {
			continue
		}
		dist := point - target
		if dist < 0 {
			dist = -dist
		}
		if dist <= window && dist < bestDist {
			best = point
			bestDist = dist
		}
	}
	if best < 0 {
		return target
	}
	return best
}
