// Package session persists conversation sessions and their messages with
// sliding expiry.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/zulandar/admitdesk/internal/models"
	"gorm.io/gorm"
)

// Default configuration values for Store.
const (
	DefaultTTL          = 2 * time.Hour
	DefaultHistoryLimit = 10
	// DefaultPromptWindow is how many recent messages are forwarded into
	// generation prompts.
	DefaultPromptWindow = 6
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session: not found")

// Message is a turn to append to a session.
type Message struct {
	Role          string
	Content       string
	ReferencedIDs []string
	IntentTag     string
}

// Entry is a stored turn, decoded for callers.
type Entry struct {
	ID            string
	SessionID     string
	Sequence      int
	Role          string
	Content       string
	ReferencedIDs []string
	IntentTag     string
	CreatedAt     time.Time
}

// Store handles persistence of sessions and their message history.
type Store struct {
	db           *gorm.DB
	ttl          time.Duration
	historyLimit int
	now          func() time.Time
	logger       *slog.Logger

	locks sync.Map // session ID -> *sync.Mutex

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB           *gorm.DB
	TTL          time.Duration    // defaults to DefaultTTL
	HistoryLimit int              // defaults to DefaultHistoryLimit
	Clock        func() time.Time // defaults to time.Now in UTC
	Logger       *slog.Logger     // defaults to slog.Default()
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: store: db is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:           opts.DB,
		ttl:          ttl,
		historyLimit: limit,
		now:          clock,
		logger:       logger,
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// TTL returns the sliding expiry window.
func (s *Store) TTL() time.Duration { return s.ttl }

// GetOrCreate returns the most recent active session for scope, creating
// one if none exists. The bool reports whether a session was created.
func (s *Store) GetOrCreate(ctx context.Context, scope Scope) (*models.ConversationSession, bool, error) {
	var existing models.ConversationSession
	result := s.db.WithContext(ctx).
		Where("owner_scope = ? AND expires_at > ?", scope.Key(), s.now()).
		Order("created_at DESC").
		First(&existing)
	if result.Error == nil {
		return &existing, false, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("session: lookup active: %w", result.Error)
	}
	sess, err := s.Start(ctx, scope)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Start creates a fresh session for scope and retires any other active
// session of the same scope, keeping at most one active per scope.
func (s *Store) Start(ctx context.Context, scope Scope) (*models.ConversationSession, error) {
	now := s.now()
	key := scope.Key()
	sess := &models.ConversationSession{
		ID:         uuid.NewString(),
		OwnerScope: key,
		UserID:     scope.UserID,
		Board:      scope.Board,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ConversationSession{}).
			Where("owner_scope = ? AND expires_at > ?", key, now).
			Update("expires_at", now).Error; err != nil {
			return fmt.Errorf("retire active sessions: %w", err)
		}
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}
	s.logger.Debug("session started", "session_id", sess.ID, "scope", key)
	return sess, nil
}

// Resume returns session id when it exists, belongs to scope, and has not
// expired. Otherwise a fresh session is started. The bool reports whether
// the requested session was resumed.
func (s *Store) Resume(ctx context.Context, scope Scope, id string) (*models.ConversationSession, bool, error) {
	if id != "" {
		sess, err := s.Get(ctx, id)
		switch {
		case err == nil && sess.OwnerScope == scope.Key() && !sess.Expired(s.now()):
			return sess, true, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, false, err
		}
	}
	sess, err := s.Start(ctx, scope)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// Get fetches a session by ID regardless of expiry.
func (s *Store) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &sess, nil
}

// Append records a message and slides the session's expiry to now + TTL.
// Appends to one session are serialised so sequence numbers and created_at
// stay monotonic.
func (s *Store) Append(ctx context.Context, sessionID string, msg Message) (*Entry, error) {
	if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
		return nil, fmt.Errorf("session: append: invalid role %q", msg.Role)
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	refs, err := encodeIDs(msg.ReferencedIDs)
	if err != nil {
		return nil, fmt.Errorf("session: append: %w", err)
	}

	now := s.now()
	row := models.ConversationMessage{
		SessionID:     sessionID,
		Role:          msg.Role,
		Content:       msg.Content,
		ReferencedIDs: refs,
	}
	if msg.IntentTag != "" {
		tag := msg.IntentTag
		row.IntentTag = &tag
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.ConversationSession
		if err := tx.Where("id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load session: %w", err)
		}

		var last models.ConversationMessage
		res := tx.Where("session_id = ?", sessionID).Order("sequence DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return fmt.Errorf("load last message: %w", res.Error)
		}
		row.Sequence = 1
		row.CreatedAt = now
		if res.RowsAffected > 0 {
			row.Sequence = last.Sequence + 1
			if row.CreatedAt.Before(last.CreatedAt) {
				row.CreatedAt = last.CreatedAt
			}
		}
		row.ID = s.newID(row.CreatedAt)

		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		updates := map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"expires_at":    now.Add(s.ttl),
			"updated_at":    now,
		}
		if msg.Role == models.RoleUser {
			updates["last_query"] = msg.Content
		}
		if err := tx.Model(&models.ConversationSession{}).
			Where("id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("extend session: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: append %s: %w", sessionID, err)
	}
	entry := toEntry(row)
	return &entry, nil
}

// RecentHistory returns the last limit messages of a session in
// chronological order. limit <= 0 uses the store's history limit.
func (s *Store) RecentHistory(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	var rows []models.ConversationMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("session: recent history: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = toEntry(r)
	}
	return out, nil
}

// History returns every message of a session, ordered by sequence.
func (s *Store) History(ctx context.Context, sessionID string) ([]Entry, error) {
	var rows []models.ConversationMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = toEntry(r)
	}
	return out, nil
}

// SweepResult counts rows removed by ExpireSweep.
type SweepResult struct {
	Sessions int64
	Messages int64
}

// ExpireSweep deletes expired sessions and their messages. It is idempotent
// and safe to run concurrently: a row already removed by another sweep is
// simply not counted.
func (s *Store) ExpireSweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var res SweepResult
	var ids []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ConversationSession{}).
			Where("expires_at <= ?", now).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find expired: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		msgs := tx.Where("session_id IN ?", ids).Delete(&models.ConversationMessage{})
		if msgs.Error != nil {
			return fmt.Errorf("delete messages: %w", msgs.Error)
		}
		res.Messages = msgs.RowsAffected

		sess := tx.Where("id IN ? AND expires_at <= ?", ids, now).Delete(&models.ConversationSession{})
		if sess.Error != nil {
			return fmt.Errorf("delete sessions: %w", sess.Error)
		}
		res.Sessions = sess.RowsAffected
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("session: expire sweep: %w", err)
	}
	for _, id := range ids {
		s.locks.Delete(id)
	}
	if res.Sessions > 0 {
		s.logger.Info("expired sessions swept", "sessions", res.Sessions, "messages", res.Messages)
	}
	return res, nil
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) newID(t time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func toEntry(m models.ConversationMessage) Entry {
	e := Entry{
		ID:            m.ID,
		SessionID:     m.SessionID,
		Sequence:      m.Sequence,
		Role:          m.Role,
		Content:       m.Content,
		ReferencedIDs: decodeIDs(m.ReferencedIDs),
		CreatedAt:     m.CreatedAt,
	}
	if m.IntentTag != nil {
		e.IntentTag = *m.IntentTag
	}
	return e
}

func encodeIDs(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeIDs tolerates empty or malformed columns by returning no IDs.
func decodeIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// LastAssistant returns the most recent assistant entry, or nil.
func LastAssistant(history []Entry) *Entry {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return &history[i]
		}
	}
	return nil
}
