// Package session implements the upload session state machine: creation
// against the remote endpoint, the sequential chunk loop with offset
// tracking, pause/resume/cancel semantics, and retry orchestration.
package session

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudpin/resumable/internal/config"
	"github.com/cloudpin/resumable/internal/events"
	"github.com/cloudpin/resumable/internal/logging"
	"github.com/cloudpin/resumable/internal/protocol"
	"github.com/cloudpin/resumable/internal/retry"
	"github.com/cloudpin/resumable/internal/source"
)

// State is the session lifecycle state. Transitions run strictly
// forward except Transferring <-> Paused; Completed, Cancelled and
// Failed are terminal.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateTransferring State = "transferring"
	StatePaused       State = "paused"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Terminal reports whether no transition leaves this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// errCancelled flows out of retry waits interrupted by Cancel. It never
// escapes the session; cancellation is a state, not an error.
var errCancelled = errors.New("session cancelled")

// progressCeiling caps emitted progress until finalization confirms
// completion; 100 is reserved for the terminal Completed state.
const progressCeiling = 99.9

// speedSmoothingAlpha weights the newest rate sample in the EMA.
const speedSmoothingAlpha = 0.25

// Session drives one resumable upload from creation to a terminal
// state. A session is single-use: once terminal it is never restarted,
// and a new transfer gets a fresh session with no carried-over offset
// or retry counters.
//
// Start and Resume block while driving the chunk loop; Pause and Cancel
// may be called from any goroutine and take effect at the next
// checkpoint.
type Session struct {
	id       string
	endpoint string
	desc     source.Descriptor
	src      source.Source
	client   *protocol.Client
	opts     config.UploadOptions
	meta     protocol.Metadata
	bus      *events.Bus
	logger   *logging.Logger

	mu            sync.Mutex
	state         State
	uploadURL     string
	totalSize     int64
	offset        int64
	pendingPause  bool
	pendingCancel bool
	lastHeaders   nethttp.Header
	cid           string
	err           error

	cancelCh   chan struct{}
	cancelOnce sync.Once

	startedAt time.Time
	lastTick  time.Time
	lastBytes int64
	speed     float64

	resumePath string
}

// New validates the descriptor and options and returns an idle session.
// Memory-backed sources larger than the chunk size are rejected here:
// they must fit a single chunk.
func New(client *protocol.Client, endpoint string, desc source.Descriptor, opts config.UploadOptions, bus *events.Bus, logger *logging.Logger) (*Session, error) {
	if client == nil {
		return nil, &protocol.ValidationError{Reason: "nil transfer client"}
	}
	if endpoint == "" {
		return nil, &protocol.ValidationError{Reason: "missing endpoint"}
	}
	if desc.Kind() == source.KindFile && desc.Path() == "" {
		return nil, &protocol.ValidationError{Reason: "missing source"}
	}

	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, &protocol.ValidationError{Reason: err.Error()}
	}
	if desc.Kind() == source.KindMemory && desc.Size() > opts.ChunkSize {
		return nil, &protocol.ValidationError{
			Reason: fmt.Sprintf("in-memory source of %d bytes exceeds chunk size %d", desc.Size(), opts.ChunkSize),
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	name := opts.Name
	if name == "" {
		name = desc.Name()
	}

	s := &Session{
		id:        uuid.NewString(),
		endpoint:  endpoint,
		desc:      desc,
		src:       desc.Open(),
		client:    client,
		opts:      opts,
		bus:       bus,
		logger:    logger,
		state:     StateIdle,
		totalSize: desc.Size(),
		cancelCh:  make(chan struct{}),
		meta: protocol.Metadata{
			Filename:  name,
			Filetype:  protocol.DetectFiletype(name),
			Network:   opts.Network,
			GroupID:   opts.GroupID,
			KeyValues: opts.KeyValues,
		},
	}
	if desc.Kind() == source.KindFile {
		s.resumePath = ResumeStatePath(desc.Path())
	}
	return s, nil
}

// Restore rebuilds a session from a persisted resume sidecar, entering
// at Paused so the caller continues it with Resume. The descriptor must
// still match the recorded total size.
func Restore(client *protocol.Client, desc source.Descriptor, st *ResumeState, opts config.UploadOptions, bus *events.Bus, logger *logging.Logger) (*Session, error) {
	if st == nil {
		return nil, &protocol.ValidationError{Reason: "nil resume state"}
	}
	if desc.Size() != st.TotalSize {
		return nil, &protocol.ValidationError{
			Reason: fmt.Sprintf("source size changed (was %d, now %d)", st.TotalSize, desc.Size()),
		}
	}
	if st.Offset < 0 || st.Offset > st.TotalSize {
		return nil, &protocol.ValidationError{
			Reason: fmt.Sprintf("recorded offset %d out of range [0,%d]", st.Offset, st.TotalSize),
		}
	}

	s, err := New(client, st.UploadURL, desc, opts, bus, logger)
	if err != nil {
		return nil, err
	}
	s.uploadURL = st.UploadURL
	s.offset = st.Offset
	s.state = StatePaused
	s.startedAt = time.Now()
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offset returns the bytes acknowledged by the remote so far.
func (s *Session) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// UploadURL returns the resumable upload target assigned at creation,
// empty before initialization completes.
func (s *Session) UploadURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadURL
}

// Progress returns the current progress percentage. The value stays
// below 100 until the session is Completed.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() float64 {
	if s.state == StateCompleted {
		return 100
	}
	if s.totalSize == 0 {
		return 0
	}
	pct := float64(s.offset) / float64(s.totalSize) * 100
	if pct > progressCeiling {
		pct = progressCeiling
	}
	return pct
}

// Result returns the remote object identifier and the terminal error,
// if any. The identifier may be empty even on success when the server
// never reported one.
func (s *Session) Result() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cid, s.err
}

// Start creates the remote upload target and drives the chunk loop to a
// terminal state or a pause. It blocks until the loop stops; run it in
// a goroutine to keep the caller free. Valid only once, from Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return &protocol.ValidationError{Reason: fmt.Sprintf("start from state %s", st)}
	}
	s.state = StateInitializing
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.emitState(StateIdle, StateInitializing)

	url, err := s.createWithRetry(ctx)
	if errors.Is(err, errCancelled) {
		s.toCancelled()
		return nil
	}
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.pendingCancel {
		s.mu.Unlock()
		s.toCancelled()
		return nil
	}
	s.uploadURL = url
	s.state = StateTransferring
	s.mu.Unlock()
	s.emitState(StateInitializing, StateTransferring)
	s.saveSidecar()

	return s.run(ctx)
}

// Resume re-enters the chunk loop from the persisted offset. Valid only
// from Paused; a no-op otherwise.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused || s.uploadURL == "" {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTransferring
	s.mu.Unlock()
	s.emitState(StatePaused, StateTransferring)

	return s.run(ctx)
}

// Pause requests a pause at the next checkpoint. In-flight chunk
// requests run to completion first. A no-op unless Transferring.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTransferring {
		s.pendingPause = true
	}
}

// Cancel requests cancellation. The flag is set immediately and
// observed at the next checkpoint or retry wait; calling Cancel after
// termination is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.pendingCancel = true
	s.mu.Unlock()

	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// run is the driving loop: one chunk window per iteration, pause and
// cancel sampled only at the top, never mid-request.
func (s *Session) run(ctx context.Context) error {
	for {
		switch s.checkpoint() {
		case StateCancelled, StatePaused:
			return nil
		}

		s.mu.Lock()
		offset := s.offset
		total := s.totalSize
		s.mu.Unlock()

		if offset >= total {
			return s.finalize()
		}

		length := s.opts.ChunkSize
		if remaining := total - offset; length > remaining {
			length = remaining
		}

		buf, err := s.src.ReadAt(offset, length)
		if err != nil {
			s.fail(err)
			return err
		}

		headers, err := s.sendChunkWithRetry(ctx, offset, buf)
		if errors.Is(err, errCancelled) {
			s.toCancelled()
			return nil
		}
		if err != nil {
			s.fail(err)
			return err
		}

		s.advance(int64(len(buf)), headers)
	}
}

// checkpoint samples the pause and cancel flags and applies the
// resulting transition, returning the state to act on.
func (s *Session) checkpoint() State {
	s.mu.Lock()
	if s.pendingCancel {
		s.mu.Unlock()
		s.toCancelled()
		return StateCancelled
	}
	if s.pendingPause {
		s.pendingPause = false
		old := s.state
		s.state = StatePaused
		s.mu.Unlock()
		s.emitState(old, StatePaused)
		s.logger.Debug().Str("session", s.id).Int64("offset", s.Offset()).Msg("session paused")
		return StatePaused
	}
	st := s.state
	s.mu.Unlock()
	return st
}

// createWithRetry issues the creation request under the session's retry
// policy. Authentication failures bypass retry entirely; the attempt
// counter is scoped to this call.
func (s *Session) createWithRetry(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		url, err := s.client.CreateSession(ctx, s.endpoint, s.totalSize, s.meta, s.opts.CustomHeaders)
		if err == nil {
			return url, nil
		}
		if protocol.IsFatal(err) {
			return "", err
		}

		decision := s.opts.Retry.Decide(attempt, protocol.StatusOf(err), err)
		if !decision.Retry {
			return "", err
		}
		if werr := s.waitRetry(ctx, attempt+1, decision.Delay, err); werr != nil {
			return "", werr
		}
	}
}

// sendChunkWithRetry sends one chunk under the retry policy. The
// attempt counter resets for every chunk.
func (s *Session) sendChunkWithRetry(ctx context.Context, offset int64, buf []byte) (nethttp.Header, error) {
	for attempt := 0; ; attempt++ {
		headers, err := s.client.SendChunk(ctx, s.uploadURL, offset, buf, s.opts.CustomHeaders)
		if err == nil {
			return headers, nil
		}
		if protocol.IsFatal(err) {
			return nil, err
		}

		decision := s.opts.Retry.Decide(attempt, protocol.StatusOf(err), err)
		if !decision.Retry {
			return nil, err
		}
		if werr := s.waitRetry(ctx, attempt+1, decision.Delay, err); werr != nil {
			return nil, werr
		}
	}
}

// waitRetry waits out a backoff delay, aborting immediately if the
// session is cancelled or the context ends. Both abort paths surface as
// errCancelled so the loop lands in Cancelled rather than Failed.
func (s *Session) waitRetry(ctx context.Context, attempt int, delay time.Duration, cause error) error {
	s.logger.Warn().
		Str("session", s.id).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(cause).
		Msg("retrying after failure")
	s.emit(&events.RetryEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRetry, Time: time.Now()},
		SessionID: s.id,
		Attempt:   attempt,
		Delay:     delay,
		Err:       cause,
	})

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.cancelCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := retry.Wait(waitCtx, delay); err != nil {
		return errCancelled
	}
	return nil
}

// advance moves the acknowledged offset forward after a successful
// chunk, records the response headers for finalization, persists the
// sidecar, and emits progress.
func (s *Session) advance(n int64, headers nethttp.Header) {
	s.mu.Lock()
	s.offset += n
	s.lastHeaders = headers
	offset := s.offset
	total := s.totalSize
	pct := s.progressLocked()
	speed := s.updateSpeedLocked(offset)
	s.mu.Unlock()

	s.saveSidecar()
	s.emit(&events.ProgressEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventProgress, Time: time.Now()},
		SessionID:    s.id,
		Percent:      pct,
		BytesCurrent: offset,
		BytesTotal:   total,
		Speed:        speed,
	})
}

// updateSpeedLocked maintains the EMA-smoothed transfer rate.
func (s *Session) updateSpeedLocked(bytes int64) float64 {
	now := time.Now()
	if s.lastTick.IsZero() {
		s.lastTick = now
		s.lastBytes = bytes
		return 0
	}
	elapsed := now.Sub(s.lastTick).Seconds()
	if elapsed <= 0 {
		return s.speed
	}
	instant := float64(bytes-s.lastBytes) / elapsed
	if s.speed > 0 {
		s.speed = speedSmoothingAlpha*instant + (1-speedSmoothingAlpha)*s.speed
	} else {
		s.speed = instant
	}
	s.lastBytes = bytes
	s.lastTick = now
	return s.speed
}

// finalize derives the object identifier from the last chunk response
// and completes the session. A missing identifier is not a failure; the
// bytes are already acknowledged.
func (s *Session) finalize() error {
	s.mu.Lock()
	old := s.state
	s.state = StateFinalizing
	headers := s.lastHeaders
	s.mu.Unlock()
	s.emitState(old, StateFinalizing)

	cid := protocol.ObjectIdentifier(headers)

	s.mu.Lock()
	s.state = StateCompleted
	s.cid = cid
	total := s.totalSize
	s.mu.Unlock()
	s.emitState(StateFinalizing, StateCompleted)
	s.emit(&events.ProgressEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventProgress, Time: time.Now()},
		SessionID:    s.id,
		Percent:      100,
		BytesCurrent: total,
		BytesTotal:   total,
	})
	s.emit(&events.CompletedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventCompleted, Time: time.Now()},
		SessionID: s.id,
		CID:       cid,
		Duration:  time.Since(s.startedAt),
	})

	s.removeSidecar()
	s.logger.Info().Str("session", s.id).Str("cid", cid).Msg("upload completed")
	return nil
}

// fail records the terminal error. The sidecar is kept so a later
// process can restore and retry from the acknowledged offset.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	s.emitState(old, StateFailed)
	s.emit(&events.FailedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventFailed, Time: time.Now()},
		SessionID: s.id,
		Err:       err,
	})
	s.logger.Error().Str("session", s.id).Err(err).Msg("upload failed")
}

// toCancelled applies the cancellation transition and releases
// session-owned resources.
func (s *Session) toCancelled() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateCancelled
	s.mu.Unlock()

	s.emitState(old, StateCancelled)
	s.emit(&events.CancelledEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventCancelled, Time: time.Now()},
		SessionID: s.id,
	})
	s.removeSidecar()
	s.logger.Info().Str("session", s.id).Msg("upload cancelled")
}

func (s *Session) emitState(from, to State) {
	s.emit(&events.StateChangeEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventStateChange, Time: time.Now()},
		SessionID: s.id,
		OldState:  string(from),
		NewState:  string(to),
	})
}

func (s *Session) emit(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// saveSidecar persists resume state for file-backed sources.
// Best-effort: a sidecar write failure never fails the transfer.
func (s *Session) saveSidecar() {
	if s.resumePath == "" {
		return
	}
	s.mu.Lock()
	st := &ResumeState{
		UploadURL:  s.uploadURL,
		Offset:     s.offset,
		TotalSize:  s.totalSize,
		ChunkSize:  s.opts.ChunkSize,
		CreatedAt:  s.startedAt,
		LastUpdate: time.Now(),
	}
	s.mu.Unlock()

	if err := SaveResumeState(s.resumePath, st); err != nil {
		s.logger.Warn().Str("session", s.id).Err(err).Msg("failed to persist resume state")
	}
}

func (s *Session) removeSidecar() {
	if s.resumePath == "" {
		return
	}
	if err := DeleteResumeState(s.resumePath); err != nil {
		s.logger.Warn().Str("session", s.id).Err(err).Msg("failed to remove resume state")
	}
}
