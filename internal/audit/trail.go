package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 50 * time.Millisecond

	// Replay must tolerate entries far larger than bufio's default
	// 64KB line limit when Details payloads are big.
	maxLineBytes = 4 * 1024 * 1024
)

// Trail is the append-only audit log: an in-memory slice mirrored by an
// NDJSON file. Record serializes all writers; queries are concurrent.
type Trail struct {
	mu     sync.RWMutex
	signer *Signer
	path   string
	file   *os.File

	entries  []Entry
	tailHash string
	maxCycle uint64

	clock         func() time.Time
	retryAttempts int
	retryBase     time.Duration
}

// Option configures a Trail at Open time.
type Option func(*Trail)

// WithClock overrides the timestamp source. Used by the harness to
// produce reproducible trails.
func WithClock(fn func() time.Time) Option {
	return func(t *Trail) {
		t.clock = fn
	}
}

// WithRetry overrides the write-failure retry policy: attempts is the
// number of retries after the first failure, base the initial backoff
// delay (doubled per retry).
func WithRetry(attempts int, base time.Duration) Option {
	return func(t *Trail) {
		t.retryAttempts = attempts
		t.retryBase = base
	}
}

// Open opens or creates the trail file at path and replays any existing
// entries, seeding the chain tail and the maximum cycle number so both
// continue seamlessly across restarts.
//
// Open does not verify the replayed chain. Verification is an explicit,
// separately reportable operation; a trail with a broken historical
// chain still accepts new entries, and the break stays detectable.
func Open(path string, signer *Signer, opts ...Option) (*Trail, error) {
	if signer == nil {
		return nil, errors.New("audit: signer required")
	}

	entries, err := ReadLog(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}

	t := &Trail{
		signer:        signer,
		path:          path,
		file:          f,
		entries:       entries,
		clock:         time.Now,
		retryAttempts: defaultRetryAttempts,
		retryBase:     defaultRetryBase,
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, e := range entries {
		if e.CycleNumber > t.maxCycle {
			t.maxCycle = e.CycleNumber
		}
	}
	if n := len(entries); n > 0 {
		t.tailHash = entries[n-1].Hash()
	}
	return t, nil
}

// ReadLog replays the NDJSON file at path into entries. A missing file
// is an empty trail, not an error. A line that does not parse is an
// error: a torn or hand-edited log must surface loudly, not be skipped.
func ReadLog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse audit log %s line %d: %w", path, lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log %s: %w", path, err)
	}
	return entries, nil
}

// Record appends a signed entry for event under cycleNumber.
//
// The entry's PrevHash is the hash of the current tail (empty for the
// first entry). The file is appended and flushed before memory is
// updated; if every write attempt fails the entry is not recorded
// anywhere. File write failures are the one category retried with
// exponential backoff, because losing auditability is the one failure
// the rest of the system cannot recover from.
func (t *Trail) Record(ctx context.Context, cycleNumber uint64, event Event) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return Entry{}, errors.New("audit: trail is closed")
	}

	e := Entry{
		Timestamp:   t.clock().UTC(),
		CycleNumber: cycleNumber,
		Event:       event,
		PrevHash:    t.tailHash,
	}
	e.Signature = base64.StdEncoding.EncodeToString(t.signer.Sign(e.SigningBytes()))

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if err := t.appendWithRetry(ctx, line); err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}

	t.entries = append(t.entries, e)
	t.tailHash = e.Hash()
	if cycleNumber > t.maxCycle {
		t.maxCycle = cycleNumber
	}
	return e, nil
}

// appendWithRetry writes one line to the file, retrying transient
// failures with doubling backoff. The whole line is rewritten on retry;
// a partial write followed by a successful retry leaves a torn prefix
// that replay reports as a parse error rather than silently skipping.
func (t *Trail) appendWithRetry(ctx context.Context, line []byte) error {
	delay := t.retryBase
	var lastErr error
	for attempt := 0; attempt <= t.retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		if _, err := t.file.Write(line); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// VerifyIntegrity recomputes the hash chain over the in-memory log,
// returning false at the first broken link.
func (t *Trail) VerifyIntegrity() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := ChainValid(t.entries)
	return ok
}

// VerifySignatures rechecks every entry's signature against the trail's
// public key.
func (t *Trail) VerifySignatures() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := SignaturesValid(t.entries, t.signer.Public())
	return ok
}

// NextCycleNumber returns the number the next cycle should use: one
// past the maximum recorded so far, starting at 1 on an empty trail.
func (t *Trail) NextCycleNumber() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxCycle + 1
}

// GetCycle returns all entries recorded under cycle n, in append order.
func (t *Trail) GetCycle(n uint64) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.CycleNumber == n {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the last limit entries in append order. A non-positive
// limit returns nil.
func (t *Trail) Recent(limit int) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || len(t.entries) == 0 {
		return nil
	}
	if limit > len(t.entries) {
		limit = len(t.entries)
	}
	out := make([]Entry, limit)
	copy(out, t.entries[len(t.entries)-limit:])
	return out
}

// FullHistory returns a copy of every entry in append order.
func (t *Trail) FullHistory() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Path returns the trail file's path.
func (t *Trail) Path() string {
	return t.path
}

// PublicKey returns the verification key for this trail's signatures.
func (t *Trail) PublicKey() ed25519.PublicKey {
	return t.signer.Public()
}

// Close closes the trail file. Further Record calls fail; queries keep
// serving the in-memory log.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	if err != nil {
		return fmt.Errorf("close audit log %s: %w", t.path, err)
	}
	return nil
}
