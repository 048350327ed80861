package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"agent-console/internal/kv"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

const (
	KeyActiveSession = "active_session_id"
	messagesPrefix   = "session_messages/"
)

func MessagesKey(sessionID string) string {
	return messagesPrefix + sessionID
}

// State is an immutable copy of what the store knows about the active session.
type State struct {
	SessionID    string
	Session      *types.Session
	UserMessages []types.ChatMessage
	// Err is the last fetch error for the active session. When NotFound is
	// set the error is terminal and polling stays off for this session.
	Err        error
	NotFound   bool
	Generation uint64
}

// ShouldPoll reports whether the poller has work for this state.
func (s State) ShouldPoll() bool {
	if s.SessionID == "" || s.NotFound {
		return false
	}
	return s.Session == nil || s.Session.Status.Active()
}

// mark identifies the store contents a fetch started from. A fetched
// snapshot is only applied if nothing replaced the session in between.
type mark struct {
	id  string
	gen uint64
	seq uint64
}

// Store holds the active session id, its last snapshot and the user's
// locally authored messages. Every write notifies subscribers.
type Store struct {
	mu     sync.RWMutex
	kv     kv.Store
	logger *utils.Logger

	sessionID string
	session   *types.Session
	confirmed *types.Session
	messages  []types.ChatMessage
	err       error
	notFound  bool
	gen       uint64
	seq       uint64

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore restores the active session id and its message cache from kv.
func NewStore(ctx context.Context, store kv.Store, logger *utils.Logger) (*Store, error) {
	if logger == nil {
		logger = utils.NopLogger()
	}
	s := &Store{kv: store, logger: logger, subs: make(map[int]chan struct{})}

	raw, err := store.Get(ctx, KeyActiveSession)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("failed to read active session: %w", err)
	}
	if id := decodeSessionID(raw); id != "" {
		s.sessionID = id
		s.messages = s.loadMessages(ctx, id)
		s.gen = 1
		logger.Debug("restored active session", "session_id", id, "messages", len(s.messages))
	}
	return s, nil
}

func decodeSessionID(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return strings.TrimSpace(id)
}

func (s *Store) loadMessages(ctx context.Context, id string) []types.ChatMessage {
	raw, err := s.kv.Get(ctx, MessagesKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to read message cache", "session_id", id, "error", err)
		return nil
	}
	var msgs []types.ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		s.logger.Warn("discarding malformed message cache", "session_id", id, "error", err)
		return nil
	}
	return msgs
}

func (s *Store) persistMessages(ctx context.Context, id string, msgs []types.ChatMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	return s.kv.Set(ctx, MessagesKey(id), data)
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		SessionID:    s.sessionID,
		Session:      s.session.Clone(),
		UserMessages: append([]types.ChatMessage(nil), s.messages...),
		Err:          s.err,
		NotFound:     s.notFound,
		Generation:   s.gen,
	}
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Subscribe returns a channel that receives a value after store changes.
// Notifications coalesce; readers should take a fresh Snapshot.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// switchLocked moves the store to id. Caller holds s.mu.
func (s *Store) switchLocked(ctx context.Context, id string) {
	s.sessionID = id
	s.session = nil
	s.confirmed = nil
	s.err = nil
	s.notFound = false
	s.messages = nil
	s.gen++
	if id != "" {
		s.messages = s.loadMessages(ctx, id)
	}
}

func (s *Store) persistActive(ctx context.Context, id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, KeyActiveSession, data); err != nil {
		return fmt.Errorf("failed to persist active session: %w", err)
	}
	return nil
}

// SetSessionID makes id the active session. The cached messages of the
// previous session are dropped from memory but stay in storage.
func (s *Store) SetSessionID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.Clear(ctx)
	}
	s.mu.Lock()
	if id == s.sessionID {
		s.mu.Unlock()
		return nil
	}
	s.switchLocked(ctx, id)
	s.mu.Unlock()

	err := s.persistActive(ctx, id)
	s.logger.Info("active session changed", "session_id", id)
	s.notify()
	return err
}

// Activate stores a freshly created session and makes it active.
func (s *Store) Activate(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	if session.ID != s.sessionID {
		s.switchLocked(ctx, session.ID)
	}
	s.session = session.Clone()
	s.confirmed = session.Clone()
	s.err = nil
	s.notFound = false
	s.seq++
	s.mu.Unlock()

	err := s.persistActive(ctx, session.ID)
	s.notify()
	return err
}

// Clear forgets the active session. Per-session message caches are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	prev := s.sessionID
	s.switchLocked(ctx, "")
	s.mu.Unlock()

	err := s.kv.Remove(ctx, KeyActiveSession)
	if prev != "" {
		s.logger.Info("session cleared", "session_id", prev)
	}
	s.notify()
	if err != nil {
		return fmt.Errorf("failed to clear active session: %w", err)
	}
	return nil
}

func (s *Store) mark() mark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mark{id: s.sessionID, gen: s.gen, seq: s.seq}
}

// applyFetched stores a polled snapshot unless the session was switched or
// a newer local write landed after the fetch began.
func (s *Store) applyFetched(m mark, session *types.Session) bool {
	s.mu.Lock()
	if s.sessionID != m.id || s.gen != m.gen || s.seq != m.seq {
		s.mu.Unlock()
		return false
	}
	s.session = session.Clone()
	s.confirmed = session.Clone()
	s.err = nil
	s.notFound = false
	s.seq++
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) setFetchError(m mark, err error, notFound bool) bool {
	s.mu.Lock()
	if s.sessionID != m.id || s.gen != m.gen {
		s.mu.Unlock()
		return false
	}
	s.err = err
	s.notFound = notFound
	s.mu.Unlock()
	s.notify()
	return true
}

// applyMutation stores the authoritative response to a mutation if the
// session is still active.
func (s *Store) applyMutation(id string, session *types.Session) bool {
	s.mu.Lock()
	if s.sessionID != id {
		s.mu.Unlock()
		return false
	}
	s.session = session.Clone()
	s.confirmed = session.Clone()
	s.err = nil
	s.notFound = false
	s.seq++
	s.mu.Unlock()
	s.notify()
	return true
}

// beginContinue applies the optimistic part of a continue: the cached
// session is marked running with its error cleared and msg is appended to
// the persisted message cache. It returns the active id and the last
// confirmed snapshot for rollback.
func (s *Store) beginContinue(ctx context.Context, msg types.ChatMessage) (string, *types.Session, error) {
	s.mu.Lock()
	id := s.sessionID
	if id == "" {
		s.mu.Unlock()
		return "", nil, ErrNoActiveSession
	}
	prior := s.confirmed.Clone()
	if s.session != nil {
		s.session.Status = types.SessionStatusRunning
		s.session.ErrorMessage = ""
	}
	s.err = nil
	s.seq++
	s.messages = append(s.messages, msg)
	msgs := append([]types.ChatMessage(nil), s.messages...)
	s.mu.Unlock()

	if err := s.persistMessages(ctx, id, msgs); err != nil {
		s.logger.Warn("failed to persist user message", "session_id", id, "error", err)
	}
	s.notify()
	return id, prior, nil
}

// rollback restores the snapshot taken before an optimistic patch.
func (s *Store) rollback(id string, prior *types.Session) {
	s.mu.Lock()
	if s.sessionID != id {
		s.mu.Unlock()
		return
	}
	s.session = prior.Clone()
	s.seq++
	s.mu.Unlock()
	s.notify()
}
