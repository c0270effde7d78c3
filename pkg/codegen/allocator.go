package codegen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Sequencer hands out dense integer ranges from a shared external counter.
// Next reserves step indices in one atomic increment-by-step and returns the
// new counter value; the caller owns [value-step, value).
type Sequencer interface {
	Next(ctx context.Context, step int64) (int64, error)
}

// segment is one contiguous index range owned by this process. The cursor
// counts up inside it; indices at or beyond end are never issued from it.
type segment struct {
	cursor atomic.Int64
	end    int64
}

// Allocator issues collision-free, non-sequential-looking short codes. It
// consumes indices from its current segment, prefetches the next segment in
// the background before the current one runs dry, and falls back to a
// synchronous counter fetch under a mutex when both are exhausted.
//
// Codes are the allocator indices pushed through an affine permutation, so
// uniqueness of indices carries over to uniqueness of codes.
type Allocator struct {
	perm *Permutation
	seq  Sequencer
	step int64

	// prefetchAt is the remaining-capacity threshold that triggers the
	// background fetch of the next segment.
	prefetchAt int64

	cur atomic.Pointer[segment]

	mu       sync.Mutex // guards next and the synchronous fetch slow path
	next     *segment
	fetching atomic.Bool

	// highWater is the largest shared-counter value observed; indices at or
	// above it were never part of any segment fetched by this process.
	highWater atomic.Int64
}

// NewAllocator builds an allocator over the given permutation and shared
// sequencer. No counter round-trip happens until the first Next call.
func NewAllocator(perm *Permutation, seq Sequencer, step int64, prefetchRatio float64) (*Allocator, error) {
	if perm == nil {
		return nil, fmt.Errorf("permutation is required")
	}
	if seq == nil {
		return nil, fmt.Errorf("sequencer is required")
	}
	if step < 1 {
		return nil, fmt.Errorf("segment step must be positive, got %d", step)
	}
	if prefetchRatio <= 0 || prefetchRatio >= 1 {
		return nil, fmt.Errorf("prefetch ratio must be in (0, 1), got %f", prefetchRatio)
	}

	a := &Allocator{
		perm:       perm,
		seq:        seq,
		step:       step,
		prefetchAt: int64(float64(step) * prefetchRatio),
	}

	// Start with an empty segment so the first Next takes the slow path.
	empty := &segment{}
	a.cur.Store(empty)
	return a, nil
}

// Next issues the next short code. If the shared counter is unreachable and
// no local capacity remains, the allocation fails; a code is never fabricated.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	for {
		seg := a.cur.Load()
		c := seg.cursor.Add(1) - 1
		if c < seg.end {
			if seg.end-c-1 <= a.prefetchAt {
				a.maybePrefetch()
			}
			return a.perm.Encode(c)
		}

		// Segment exhausted; the increment above consumed nothing because
		// the index is out of range. Swap in a new segment and retry.
		if err := a.refill(ctx, seg); err != nil {
			return "", err
		}
	}
}

// refill replaces the exhausted segment, preferring the prefetched one. Only
// one goroutine performs the slow path; the rest re-check after the swap.
func (a *Allocator) refill(ctx context.Context, exhausted *segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur.Load() != exhausted {
		// Another goroutine already swapped while we waited on the mutex.
		return nil
	}

	if a.next != nil {
		a.cur.Store(a.next)
		a.next = nil
		a.fetching.Store(false)
		return nil
	}

	seg, err := a.fetchSegment(ctx)
	if err != nil {
		return err
	}
	a.cur.Store(seg)
	return nil
}

// maybePrefetch starts at most one background fetch per segment lifetime.
func (a *Allocator) maybePrefetch() {
	if !a.fetching.CompareAndSwap(false, true) {
		return
	}

	go func() {
		seg, err := a.fetchSegment(context.Background())
		if err != nil {
			// The foreground path will fetch synchronously on exhaustion.
			a.fetching.Store(false)
			return
		}
		a.mu.Lock()
		a.next = seg
		a.mu.Unlock()
	}()
}

// fetchSegment performs one increment-by-step round-trip to the shared
// counter and wraps the reserved range in a fresh segment.
func (a *Allocator) fetchSegment(ctx context.Context) (*segment, error) {
	end, err := a.seq.Next(ctx, a.step)
	if err != nil {
		return nil, fmt.Errorf("fetch allocator segment: %w", err)
	}
	if end < a.step {
		return nil, fmt.Errorf("shared counter returned invalid value %d", end)
	}

	if hw := a.highWater.Load(); end > hw {
		a.highWater.CompareAndSwap(hw, end)
	}

	seg := &segment{end: end}
	seg.cursor.Store(end - a.step)
	return seg, nil
}

// Warm eagerly fetches the first segment. Doing this at startup also raises
// the high-water mark to the current shared-counter value, so MightExist
// recognizes codes issued before this process started.
func (a *Allocator) Warm(ctx context.Context) error {
	seg := a.cur.Load()
	if seg.cursor.Load() < seg.end {
		return nil
	}
	return a.refill(ctx, seg)
}

// DecodeIndex maps an issued code back to its allocator index.
func (a *Allocator) DecodeIndex(code string) (int64, error) {
	return a.perm.Decode(code)
}

// MightExist is a cheap local pre-filter: false means the code is malformed
// or its index lies above every counter value this process has observed.
// Sibling instances may hold segments beyond that, so a negative only rules
// the code out for codes minted through this process; callers corroborate it
// against shared state before treating it as absence. True means possibly
// issued.
func (a *Allocator) MightExist(code string) bool {
	idx, err := a.perm.Decode(code)
	if err != nil {
		return false
	}
	return idx < a.highWater.Load()
}

// CodeLength returns the fixed length of issued codes.
func (a *Allocator) CodeLength() int {
	return a.perm.Length()
}
