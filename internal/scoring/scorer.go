package scoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"llm_relay/internal/logging"
	"llm_relay/internal/models"
)

// DefaultRerankInterval bounds how stale a cached composite score may get
// before a read recomputes it.
const DefaultRerankInterval = 24 * time.Hour

// Weighting of the composite score. Success rate is expressed on a 0-100
// scale before weighting, so the final score also lands on 0-100.
const (
	successWeight = 0.6
	speedWeight   = 0.4
)

// Event describes one completed call outcome. Sinks receive it after the
// provider's performance record has been updated.
type Event struct {
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	Requests  int64         `json:"requests"`
	Successes int64         `json:"successes"`
	Score     float64       `json:"score"`
	At        time.Time     `json:"at"`
}

// EventSink receives performance events, e.g. for long-term persistence.
// The scorer itself keeps everything in memory.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type record struct {
	mu           sync.Mutex
	priority     int
	requests     int64
	successes    int64
	totalLatency time.Duration // successful calls only
	score        float64
	computedAt   time.Time
}

// Snapshot is a read-only copy of one provider's performance record.
type Snapshot struct {
	Provider   string
	Priority   int
	Requests   int64
	Successes  int64
	AvgLatency time.Duration
	Score      float64
	Scored     bool
}

// Scorer maintains rolling success/latency stats per provider and ranks
// providers by a composite score. Scores are recomputed lazily on read once
// they are older than the rerank interval; reads never block on anything
// but the per-provider lock.
type Scorer struct {
	records  map[string]*record
	interval time.Duration
	sink     EventSink
	logger   *logging.Logger
}

// NewScorer builds a scorer seeded with the providers' static priorities.
// interval <= 0 selects DefaultRerankInterval; sink may be nil.
func NewScorer(configs []models.ProviderConfig, interval time.Duration, sink EventSink) *Scorer {
	if interval <= 0 {
		interval = DefaultRerankInterval
	}
	s := &Scorer{
		records:  make(map[string]*record, len(configs)),
		interval: interval,
		sink:     sink,
		logger:   logging.NewLogger("scoring"),
	}
	for _, cfg := range configs {
		s.records[cfg.Name] = &record{priority: cfg.Priority}
	}
	return s
}

// Record applies one call outcome. Failures count toward the request total;
// only successes contribute latency. The updated record is forwarded to the
// sink, if any.
func (s *Scorer) Record(ctx context.Context, provider string, success bool, latency time.Duration) {
	rec, ok := s.records[provider]
	if !ok {
		return
	}

	rec.mu.Lock()
	rec.requests++
	if success {
		rec.successes++
		rec.totalLatency += latency
	}
	rec.score = rec.compute()
	rec.computedAt = time.Now()
	ev := Event{
		Provider:  provider,
		Success:   success,
		Latency:   latency,
		Requests:  rec.requests,
		Successes: rec.successes,
		Score:     rec.score,
		At:        rec.computedAt,
	}
	rec.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Publish(ctx, ev); err != nil {
			s.logger.Warn("dropping performance event", "provider", provider, "error", err)
		}
	}
}

// compute derives the composite score from the record. Caller holds the lock.
func (rec *record) compute() float64 {
	if rec.requests == 0 {
		return 0
	}
	successRate := float64(rec.successes) / float64(rec.requests) * 100

	var avgSeconds float64
	if rec.successes > 0 {
		avgSeconds = rec.totalLatency.Seconds() / float64(rec.successes)
	}
	speedScore := 100 - avgSeconds*10
	if speedScore < 0 {
		speedScore = 0
	}

	return successWeight*successRate + speedWeight*speedScore
}

// Score returns the provider's composite score. ok is false for providers
// with no recorded requests, which rank by static priority alone.
func (s *Scorer) Score(provider string) (score float64, ok bool) {
	rec, found := s.records[provider]
	if !found {
		return 0, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.requests == 0 {
		return 0, false
	}
	if time.Since(rec.computedAt) > s.interval {
		rec.score = rec.compute()
		rec.computedAt = time.Now()
	}
	return rec.score, true
}

// Rank orders the given providers best-first. Scored providers come ahead of
// unscored ones: within the scored group descending by composite score with
// static priority breaking ties, within the unscored group ascending by
// static priority. Partitioning first keeps the ordering transitive when the
// two groups mix.
func (s *Scorer) Rank(providers []string) []string {
	scored := make([]string, 0, len(providers))
	unscored := make([]string, 0, len(providers))
	for _, name := range providers {
		if _, ok := s.Score(name); ok {
			scored = append(scored, name)
		} else {
			unscored = append(unscored, name)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, _ := s.Score(scored[i])
		sj, _ := s.Score(scored[j])
		if si != sj {
			return si > sj
		}
		return s.priority(scored[i]) < s.priority(scored[j])
	})
	sort.SliceStable(unscored, func(i, j int) bool {
		return s.priority(unscored[i]) < s.priority(unscored[j])
	})
	return append(scored, unscored...)
}

func (s *Scorer) priority(provider string) int {
	rec, ok := s.records[provider]
	if !ok {
		return int(^uint(0) >> 1)
	}
	return rec.priority
}

// Snapshot returns a copy of the provider's performance record.
func (s *Scorer) Snapshot(provider string) (Snapshot, bool) {
	rec, ok := s.records[provider]
	if !ok {
		return Snapshot{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	snap := Snapshot{
		Provider:  provider,
		Priority:  rec.priority,
		Requests:  rec.requests,
		Successes: rec.successes,
		Score:     rec.score,
		Scored:    rec.requests > 0,
	}
	if rec.successes > 0 {
		snap.AvgLatency = rec.totalLatency / time.Duration(rec.successes)
	}
	return snap, true
}
