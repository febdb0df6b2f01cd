package sampler

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Brownie44l1/handpose-api/internal/classifier"
	"github.com/Brownie44l1/handpose-api/internal/metrics"
	"github.com/Brownie44l1/handpose-api/internal/scores"
)

// Decision says what happened to an offered frame.
type Decision int

const (
	Accepted Decision = iota
	// DroppedInterval means the frame arrived before the sampling interval elapsed.
	DroppedInterval
	// DroppedBusy means the previous classification was still running.
	DroppedBusy
	DroppedInvalid
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case DroppedInterval:
		return "dropped_interval"
	case DroppedBusy:
		return "dropped_busy"
	case DroppedInvalid:
		return "dropped_invalid"
	default:
		return "unknown"
	}
}

type Submitter interface {
	Submit(ctx context.Context, img image.Image) <-chan classifier.Outcome
}

// Snapshot is the finished classification of the most recently accepted
// frame. Seq counts accepted frames, so a slow older frame never replaces a
// newer one.
type Snapshot struct {
	Seq        uint64         `json:"seq"`
	Result     *scores.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
	Accepted   int64          `json:"accepted"`
	Dropped    int64          `json:"dropped"`
}

// Sampler classifies a stream of frames at most once per interval and drops
// everything else. Dropped frames are never retried.
type Sampler struct {
	submitter Submitter
	limiter   *rate.Limiter
	seq       atomic.Uint64

	mu       sync.RWMutex
	latest   Snapshot
	finished bool
	accepted int64
	dropped  int64
}

// New returns a Sampler. A zero interval only drops frames while busy.
func New(s Submitter, interval time.Duration) *Sampler {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Sampler{
		submitter: s,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Offer hands one frame to the sampler without waiting for its result.
func (s *Sampler) Offer(img image.Image) Decision {
	d := s.offer(img)
	metrics.Count(metrics.FramesTotal, 1, []string{metrics.Tag("decision", d.String())})

	s.mu.Lock()
	if d == Accepted {
		s.accepted++
	} else {
		s.dropped++
	}
	s.mu.Unlock()
	return d
}

func (s *Sampler) offer(img image.Image) Decision {
	if !s.limiter.Allow() {
		return DroppedInterval
	}

	out := s.submitter.Submit(context.Background(), img)
	select {
	case o := <-out:
		switch {
		case errors.Is(o.Err, classifier.ErrConcurrencyRejected):
			return DroppedBusy
		case errors.Is(o.Err, classifier.ErrInvalidInput):
			return DroppedInvalid
		}
		s.record(s.seq.Add(1), o)
	default:
		seq := s.seq.Add(1)
		go func() { s.record(seq, <-out) }()
	}
	return Accepted
}

func (s *Sampler) record(seq uint64, o classifier.Outcome) {
	snap := Snapshot{Seq: seq, Result: o.Result, FinishedAt: time.Now()}
	if o.Err != nil {
		snap.Error = o.Err.Error()
		log.Warn().Err(o.Err).Uint64("seq", seq).Msg("sampled frame failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished && seq < s.latest.Seq {
		log.Debug().Uint64("seq", seq).Uint64("latest", s.latest.Seq).Msg("stale frame result ignored")
		return
	}
	s.latest = snap
	s.finished = true
}

// Latest returns the last finished classification, if any.
func (s *Sampler) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.latest
	snap.Accepted = s.accepted
	snap.Dropped = s.dropped
	return snap, s.finished
}
