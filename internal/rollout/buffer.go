// Package rollout buffers self-play transitions for PPO updates.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartridge/geese/internal/geese"
)

var (
	// ErrEmpty is returned when sampling finds no matching transitions.
	ErrEmpty = errors.New("no transitions available for sampling")
	// ErrUnknownEpisode is returned for episodes the buffer does not hold.
	ErrUnknownEpisode = errors.New("unknown episode")
)

// Transition is a single agent step
type Transition struct {
	ID          string            `json:"id"`
	ActorID     string            `json:"actor_id"`
	EpisodeID   string            `json:"episode_id"`
	Step        uint32            `json:"step"`
	Observation geese.Observation `json:"-"`
	Action      geese.Action      `json:"action"`
	Reward      float64           `json:"reward"`
	Done        bool              `json:"done"`
	Value       float64           `json:"value"`
	Probs       []float64         `json:"probs"`
	Priority    float64           `json:"priority"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SampleConfig defines parameters for sampling transitions
type SampleConfig struct {
	BatchSize     int
	ActorID       string
	Prioritized   bool
	PriorityAlpha float64
}

// Stats represents buffer statistics
type Stats struct {
	TotalTransitions   uint64
	TotalEpisodes      uint64
	TransitionsByActor map[string]uint64
	OldestTimestamp    *time.Time
	NewestTimestamp    *time.Time
}

// Buffer is a bounded in-memory rollout store. When full, the oldest
// transitions are evicted first.
type Buffer struct {
	mu          sync.RWMutex
	transitions map[string]*Transition // ID -> Transition
	episodes    map[string][]string    // EpisodeID -> TransitionIDs
	actorIndex  map[string][]string    // ActorID -> TransitionIDs
	timeIndex   []string               // TransitionIDs sorted by timestamp
	maxSize     uint64
	rng         *rand.Rand
}

// NewBuffer creates a buffer holding at most maxSize transitions (0 is unbounded).
func NewBuffer(maxSize uint64, rng *rand.Rand) *Buffer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Buffer{
		transitions: make(map[string]*Transition),
		episodes:    make(map[string][]string),
		actorIndex:  make(map[string][]string),
		timeIndex:   make([]string, 0),
		maxSize:     maxSize,
		rng:         rng,
	}
}

// Store adds a transition, assigning an ID, timestamp and priority when unset.
func (b *Buffer) Store(ctx context.Context, t *Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.store(t)
	return nil
}

// StoreBatch stores transitions in order and returns their IDs.
func (b *Buffer) StoreBatch(ctx context.Context, transitions []*Transition) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, len(transitions))
	for i, t := range transitions {
		b.store(t)
		ids[i] = t.ID
	}
	return ids, nil
}

func (b *Buffer) store(t *Transition) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if t.Priority == 0 {
		t.Priority = 1.0
	}

	b.transitions[t.ID] = t
	if t.EpisodeID != "" {
		b.episodes[t.EpisodeID] = append(b.episodes[t.EpisodeID], t.ID)
	}
	if t.ActorID != "" {
		b.actorIndex[t.ActorID] = append(b.actorIndex[t.ActorID], t.ID)
	}
	b.insertInTimeIndex(t.ID, t.Timestamp)
	b.evictIfNeeded()
}

// Len returns the number of buffered transitions.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.transitions)
}

// Sample draws up to BatchSize distinct transitions. Weights are the
// importance weights for prioritized sampling and 1 otherwise.
func (b *Buffer) Sample(ctx context.Context, cfg SampleConfig) ([]*Transition, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Sampling advances the shared rng.
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.candidates(cfg.ActorID)
	if len(candidates) == 0 {
		return nil, nil, ErrEmpty
	}

	n := cfg.BatchSize
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}

	if cfg.Prioritized {
		sampled, weights := b.prioritizedSample(candidates, n, cfg.PriorityAlpha)
		return sampled, weights, nil
	}

	sampled := b.uniformSample(candidates, n)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	return sampled, weights, nil
}

// Stats returns buffer statistics, restricted to one actor when actorID is set.
func (b *Buffer) Stats(actorID string) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		TotalTransitions:   uint64(len(b.transitions)),
		TotalEpisodes:      uint64(len(b.episodes)),
		TransitionsByActor: make(map[string]uint64),
	}
	for actor, ids := range b.actorIndex {
		if actorID == "" || actor == actorID {
			stats.TransitionsByActor[actor] = uint64(len(ids))
		}
	}
	if len(b.timeIndex) > 0 {
		oldest := b.transitions[b.timeIndex[0]].Timestamp
		newest := b.transitions[b.timeIndex[len(b.timeIndex)-1]].Timestamp
		stats.OldestTimestamp = &oldest
		stats.NewestTimestamp = &newest
	}
	return stats
}

// UpdatePriorities sets new priorities; unknown IDs are ignored.
func (b *Buffer) UpdatePriorities(ids []string, priorities []float64) error {
	if len(ids) != len(priorities) {
		return fmt.Errorf("mismatched lengths: %d IDs vs %d priorities", len(ids), len(priorities))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, id := range ids {
		if t, ok := b.transitions[id]; ok {
			t.Priority = priorities[i]
		}
	}
	return nil
}

// Clear deletes transitions of actorID (all actors when empty), keeping the
// newest keepLastN of them. It returns the number removed.
func (b *Buffer) Clear(actorID string, keepLastN int) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	relevant := make([]string, 0, len(b.timeIndex))
	for _, id := range b.timeIndex {
		if actorID == "" || b.transitions[id].ActorID == actorID {
			relevant = append(relevant, id)
		}
	}
	if keepLastN < 0 {
		keepLastN = 0
	}
	if len(relevant) <= keepLastN {
		return 0
	}

	toDelete := relevant[:len(relevant)-keepLastN]
	for _, id := range toDelete {
		b.deleteTransition(id)
	}
	return uint64(len(toDelete))
}

// Episode returns the transitions of an episode ordered by step.
func (b *Buffer) Episode(episodeID string) ([]*Transition, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids, ok := b.episodes[episodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEpisode, episodeID)
	}
	out := make([]*Transition, len(ids))
	for i, id := range ids {
		out[i] = b.transitions[id]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (b *Buffer) insertInTimeIndex(id string, timestamp time.Time) {
	idx := sort.Search(len(b.timeIndex), func(i int) bool {
		return b.transitions[b.timeIndex[i]].Timestamp.After(timestamp)
	})
	b.timeIndex = append(b.timeIndex, "")
	copy(b.timeIndex[idx+1:], b.timeIndex[idx:])
	b.timeIndex[idx] = id
}

func (b *Buffer) evictIfNeeded() {
	for b.maxSize > 0 && uint64(len(b.transitions)) > b.maxSize && len(b.timeIndex) > 0 {
		b.deleteTransition(b.timeIndex[0])
	}
}

func (b *Buffer) deleteTransition(id string) {
	t, ok := b.transitions[id]
	if !ok {
		return
	}
	delete(b.transitions, id)

	if t.EpisodeID != "" {
		b.episodes[t.EpisodeID] = removeString(b.episodes[t.EpisodeID], id)
		if len(b.episodes[t.EpisodeID]) == 0 {
			delete(b.episodes, t.EpisodeID)
		}
	}
	if t.ActorID != "" {
		b.actorIndex[t.ActorID] = removeString(b.actorIndex[t.ActorID], id)
		if len(b.actorIndex[t.ActorID]) == 0 {
			delete(b.actorIndex, t.ActorID)
		}
	}
	b.timeIndex = removeString(b.timeIndex, id)
}

// candidates are returned in time order so sampling is reproducible for a seeded rng.
func (b *Buffer) candidates(actorID string) []*Transition {
	out := make([]*Transition, 0, len(b.timeIndex))
	for _, id := range b.timeIndex {
		t := b.transitions[id]
		if actorID != "" && t.ActorID != actorID {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (b *Buffer) uniformSample(candidates []*Transition, n int) []*Transition {
	indices := b.rng.Perm(len(candidates))
	sampled := make([]*Transition, n)
	for i := 0; i < n; i++ {
		sampled[i] = candidates[indices[i]]
	}
	return sampled
}

// prioritizedSample draws without replacement with probability
// priority^alpha / sum. Weights are (N*P(i))^-1 normalized by their maximum.
func (b *Buffer) prioritizedSample(candidates []*Transition, n int, alpha float64) ([]*Transition, []float64) {
	priorities := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		priorities[i] = math.Pow(c.Priority, alpha)
		total += priorities[i]
	}
	if total <= 0 {
		return b.uniformSample(candidates, n), ones(n)
	}

	sampled := make([]*Transition, 0, n)
	weights := make([]float64, 0, n)
	used := make([]bool, len(candidates))
	remaining := total

	for len(sampled) < n {
		target := b.rng.Float64() * remaining
		sum := 0.0
		pick := -1
		for i, p := range priorities {
			if used[i] {
				continue
			}
			pick = i
			sum += p
			if sum >= target {
				break
			}
		}
		used[pick] = true
		remaining -= priorities[pick]
		sampled = append(sampled, candidates[pick])
		weights = append(weights, 1/(float64(len(candidates))*priorities[pick]/total))
	}

	maxWeight := 0.0
	for _, w := range weights {
		maxWeight = math.Max(maxWeight, w)
	}
	for i := range weights {
		if math.IsInf(maxWeight, 1) {
			weights[i] = 1.0
			continue
		}
		weights[i] /= maxWeight
	}
	return sampled, weights
}

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0
	}
	return w
}

func removeString(slice []string, item string) []string {
	for i, s := range slice {
		if s == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
