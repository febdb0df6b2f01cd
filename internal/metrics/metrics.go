package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ClassifyLatency = "handpose.classify.latency"
	ClassifyTotal   = "handpose.classify.total"
	StageLatency    = "handpose.stage.latency"
	FramesTotal     = "handpose.frames.total"
)

var (
	// It is safe to use one Client from multiple goroutines simultaneously
	statsDClient statsd.ClientInterface = getDefaultClient()

	samplingRate = 1.0
)

// Init points the global client at telegraf and tags every metric with
// env and service.
func Init(address, env, service string, rate float64) {
	client, err := statsd.New(address, statsd.WithTags([]string{"env:" + env, "service:" + service}))
	if err != nil {
		log.Error().Err(err).Msg("StatsD client initialization failed, metrics will be unavailable")
		return
	}
	statsDClient = client
	samplingRate = rate
	log.Info().Str("address", address).Float64("samplingRate", rate).Msg("Metrics client initialized")
}

func getDefaultClient() statsd.ClientInterface {
	client, err := statsd.New("localhost:8125")
	if err != nil {
		return &statsd.NoOpClient{}
	}
	return client
}

func Timing(name string, value time.Duration, tags []string) {
	if err := statsDClient.Timing(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd timing failed")
	}
}

func Count(name string, value int64, tags []string) {
	if err := statsDClient.Count(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd count failed")
	}
}

// Tag formats a statsd key:value tag.
func Tag(key, value string) string {
	return key + ":" + value
}
