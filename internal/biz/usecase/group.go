package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// TrackerConfig configures takeover thresholds and the daily reset
type TrackerConfig struct {
	DefaultThreshold   int  // takeover count that moves a group into takeover
	AttentionThreshold int  // takeover count at which operators should review, for listings
	ResetStatusOnDaily bool // daily reset also returns groups to normal
}

// roomState is the cached status of one chat room, guarded by its own lock
type roomState struct {
	mu     sync.Mutex
	status *domain.GroupManagementStatus
	dirty  bool
}

// GroupTracker maintains per-room counters. Mutations for one room are
// serialized by that room's lock; rooms never share a lock.
type GroupTracker struct {
	repo   repo.GroupStatusRepo
	cfg    TrackerConfig
	logger *zap.Logger
	now    func() time.Time

	roomsMu sync.RWMutex
	rooms   map[string]*roomState

	onTakeover func(domain.TakeoverEvent)
}

// NewGroupTracker creates a group status tracker
func NewGroupTracker(groupRepo repo.GroupStatusRepo, cfg TrackerConfig, logger *zap.Logger) *GroupTracker {
	if cfg.AttentionThreshold <= 0 {
		cfg.AttentionThreshold = 5
	}
	return &GroupTracker{
		repo:   groupRepo,
		cfg:    cfg,
		logger: logger.Named("tracker"),
		now:    time.Now,
		rooms:  make(map[string]*roomState),
	}
}

// SetTakeoverCallback sets the hook called when a group enters takeover
func (t *GroupTracker) SetTakeoverCallback(fn func(domain.TakeoverEvent)) {
	t.onTakeover = fn
}

func (t *GroupTracker) room(chatRoom string) *roomState {
	t.roomsMu.RLock()
	rs, ok := t.rooms[chatRoom]
	t.roomsMu.RUnlock()
	if ok {
		return rs
	}

	t.roomsMu.Lock()
	defer t.roomsMu.Unlock()
	rs, ok = t.rooms[chatRoom]
	if !ok {
		rs = &roomState{}
		t.rooms[chatRoom] = rs
	}
	return rs
}

// load fills the cached record; caller holds rs.mu
func (t *GroupTracker) load(ctx context.Context, chatRoom string, rs *roomState) error {
	if rs.status != nil {
		return nil
	}
	status, err := t.repo.Get(ctx, chatRoom)
	if err != nil {
		return &domain.StorageError{Op: "load group status", Err: err}
	}
	if status == nil {
		status = domain.NewGroupStatus(chatRoom, t.now())
		rs.dirty = true
	}
	rs.status = status
	return nil
}

// update runs a read-modify-write on one room under its lock.
// A failed save leaves the record dirty for Flush; the returned status is still current.
func (t *GroupTracker) update(ctx context.Context, chatRoom string, fn func(g *domain.GroupManagementStatus)) (*domain.GroupManagementStatus, error) {
	rs := t.room(chatRoom)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := t.load(ctx, chatRoom, rs); err != nil {
		return nil, err
	}
	fn(rs.status)
	rs.dirty = true

	snapshot := rs.status.Clone()
	if err := t.repo.Save(ctx, rs.status); err != nil {
		t.logger.Warn("group status save failed, will retry on flush",
			zap.String("chat_room", chatRoom),
			zap.Error(err))
		return snapshot, &domain.StorageError{Op: "save group status", Err: err}
	}
	rs.dirty = false
	return snapshot, nil
}

// Get returns a copy of the room's status, creating a normal record if none exists
func (t *GroupTracker) Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	rs := t.room(chatRoom)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := t.load(ctx, chatRoom, rs); err != nil {
		return nil, err
	}
	return rs.status.Clone(), nil
}

// RecordMessage counts a processed message for the room
func (t *GroupTracker) RecordMessage(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	now := t.now()
	return t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		g.RecordMessage(now)
	})
}

// RecordAutoReply counts a successful reply or forward
func (t *GroupTracker) RecordAutoReply(ctx context.Context, chatRoom string) error {
	now := t.now()
	_, err := t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		g.RecordAutoReply(now)
	})
	return err
}

// Takeover counts a takeover trigger. The group moves to takeover when the
// count reaches its threshold, otherwise to attention.
func (t *GroupTracker) Takeover(ctx context.Context, chatRoom, actor, reason string) (*domain.GroupManagementStatus, error) {
	now := t.now()
	var entered bool
	var threshold int
	status, err := t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		threshold = g.Threshold(t.cfg.DefaultThreshold)
		entered = g.RecordTakeover(actor, reason, threshold, now)
	})
	if status == nil {
		return nil, err
	}

	t.logger.Info("takeover recorded",
		zap.String("chat_room", chatRoom),
		zap.String("actor", actor),
		zap.String("reason", reason),
		zap.Int("takeover_count", status.TakeoverCountToday),
		zap.Int("threshold", threshold),
		zap.String("status", string(status.Status)))

	if entered {
		t.emit(status, actor, reason, threshold, now)
	}
	return status, err
}

// IncrementCounter bumps a named today-counter
func (t *GroupTracker) IncrementCounter(ctx context.Context, chatRoom, counter, actor, reason string) error {
	switch counter {
	case domain.CounterMessageCountToday:
		_, err := t.RecordMessage(ctx, chatRoom)
		return err
	case domain.CounterAutoReplyCountToday:
		return t.RecordAutoReply(ctx, chatRoom)
	case domain.CounterTakeoverCountToday:
		_, err := t.Takeover(ctx, chatRoom, actor, reason)
		return err
	}
	return fmt.Errorf("unknown counter %q", counter)
}

// ManualTakeover puts a group under human control
func (t *GroupTracker) ManualTakeover(ctx context.Context, chatRoom, actor, reason string) (*domain.GroupManagementStatus, error) {
	now := t.now()
	var entered bool
	status, err := t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		entered = g.Status != domain.GroupTakeover
		g.ManualTakeover(actor, reason, now)
	})
	if status != nil && entered {
		t.emit(status, actor, reason, status.Threshold(t.cfg.DefaultThreshold), now)
	}
	return status, err
}

// Release hands a group back to automation
func (t *GroupTracker) Release(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	now := t.now()
	return t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		g.Release(now)
	})
}

// GroupSettings are operator-editable group fields; nil means unchanged
type GroupSettings struct {
	GroupName          *string
	AutoReplyEnabled   *bool
	AutoForwardEnabled *bool
	TakeoverThreshold  *int
}

// UpdateSettings changes the operator-editable fields of a group
func (t *GroupTracker) UpdateSettings(ctx context.Context, chatRoom string, s GroupSettings) (*domain.GroupManagementStatus, error) {
	now := t.now()
	return t.update(ctx, chatRoom, func(g *domain.GroupManagementStatus) {
		if s.GroupName != nil {
			g.GroupName = *s.GroupName
		}
		if s.AutoReplyEnabled != nil {
			g.AutoReplyEnabled = *s.AutoReplyEnabled
		}
		if s.AutoForwardEnabled != nil {
			g.AutoForwardEnabled = *s.AutoForwardEnabled
		}
		if s.TakeoverThreshold != nil {
			g.TakeoverThreshold = *s.TakeoverThreshold
		}
		g.UpdatedAt = now
	})
}

// BatchUpdateStatus sets the status of several groups; takeover records the actor and reason
func (t *GroupTracker) BatchUpdateStatus(ctx context.Context, chatRooms []string, status domain.GroupStatus, actor, reason string) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid group status %q", status)
	}
	updated := 0
	for _, room := range chatRooms {
		var err error
		switch status {
		case domain.GroupTakeover:
			_, err = t.ManualTakeover(ctx, room, actor, reason)
		case domain.GroupNormal:
			_, err = t.Release(ctx, room)
		default:
			now := t.now()
			_, err = t.update(ctx, room, func(g *domain.GroupManagementStatus) {
				g.Status = status
				g.UpdatedAt = now
			})
		}
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Delete removes a group's record
func (t *GroupTracker) Delete(ctx context.Context, chatRoom string) error {
	t.roomsMu.Lock()
	rs, ok := t.rooms[chatRoom]
	delete(t.rooms, chatRoom)
	t.roomsMu.Unlock()

	if ok {
		rs.mu.Lock()
		defer rs.mu.Unlock()
	}
	return t.repo.Delete(ctx, chatRoom)
}

// ResetDailyCounters zeroes every group's today counters. New rooms are
// blocked and each cached room is locked for the duration of the reset.
func (t *GroupTracker) ResetDailyCounters(ctx context.Context) (int64, error) {
	t.roomsMu.Lock()
	defer t.roomsMu.Unlock()

	now := t.now()
	for _, rs := range t.rooms {
		rs.mu.Lock()
	}
	defer func() {
		for _, rs := range t.rooms {
			rs.mu.Unlock()
		}
	}()

	// Dirty records must reach storage before the bulk reset overwrites them
	for room, rs := range t.rooms {
		if rs.status == nil {
			continue
		}
		rs.status.ResetDaily(t.cfg.ResetStatusOnDaily, now)
		if rs.dirty {
			if err := t.repo.Save(ctx, rs.status); err == nil {
				rs.dirty = false
			} else {
				t.logger.Warn("failed to save group during reset", zap.String("chat_room", room), zap.Error(err))
			}
		}
	}

	n, err := t.repo.ResetDailyCounters(ctx, t.cfg.ResetStatusOnDaily)
	if err != nil {
		return 0, &domain.StorageError{Op: "reset daily counters", Err: err}
	}
	t.logger.Info("daily counters reset",
		zap.Int64("groups", n),
		zap.Bool("status_reset", t.cfg.ResetStatusOnDaily))
	return n, nil
}

// Flush persists records whose last save failed
func (t *GroupTracker) Flush(ctx context.Context) error {
	t.roomsMu.RLock()
	rooms := make(map[string]*roomState, len(t.rooms))
	for k, v := range t.rooms {
		rooms[k] = v
	}
	t.roomsMu.RUnlock()

	var firstErr error
	for room, rs := range rooms {
		rs.mu.Lock()
		if rs.dirty && rs.status != nil {
			if err := t.repo.Save(ctx, rs.status); err != nil {
				if firstErr == nil {
					firstErr = &domain.StorageError{Op: "flush group " + room, Err: err}
				}
			} else {
				rs.dirty = false
			}
		}
		rs.mu.Unlock()
	}
	return firstErr
}

// ListAll lists all groups from storage, overlaid with cached records
func (t *GroupTracker) ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error) {
	groups, err := t.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return t.overlay(groups), nil
}

// NeedingAttention lists groups in attention or takeover, or with takeover count at or above the threshold
func (t *GroupTracker) NeedingAttention(ctx context.Context, threshold int) ([]*domain.GroupManagementStatus, error) {
	if threshold <= 0 {
		threshold = t.cfg.AttentionThreshold
	}
	groups, err := t.repo.ListNeedingAttention(ctx, threshold)
	if err != nil {
		return nil, err
	}
	return t.overlay(groups), nil
}

// ActiveSince lists groups active in the last window
func (t *GroupTracker) ActiveSince(ctx context.Context, window time.Duration) ([]*domain.GroupManagementStatus, error) {
	groups, err := t.repo.ListActiveSince(ctx, t.now().Add(-window))
	if err != nil {
		return nil, err
	}
	return t.overlay(groups), nil
}

// CountByStatus counts groups per status
func (t *GroupTracker) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	return t.repo.CountByStatus(ctx)
}

// Search lists groups whose name contains the text
func (t *GroupTracker) Search(ctx context.Context, name string) ([]*domain.GroupManagementStatus, error) {
	groups, err := t.repo.SearchByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.overlay(groups), nil
}

// overlay replaces stored rows with cached ones that may be newer
func (t *GroupTracker) overlay(groups []*domain.GroupManagementStatus) []*domain.GroupManagementStatus {
	t.roomsMu.RLock()
	defer t.roomsMu.RUnlock()
	for i, g := range groups {
		rs, ok := t.rooms[g.ChatRoom]
		if !ok {
			continue
		}
		rs.mu.Lock()
		if rs.status != nil && rs.dirty {
			groups[i] = rs.status.Clone()
		}
		rs.mu.Unlock()
	}
	return groups
}

func (t *GroupTracker) emit(status *domain.GroupManagementStatus, actor, reason string, threshold int, at time.Time) {
	t.logger.Warn("group entered takeover",
		zap.String("chat_room", status.ChatRoom),
		zap.String("actor", actor),
		zap.String("reason", reason))
	if t.onTakeover == nil {
		return
	}
	t.onTakeover(domain.TakeoverEvent{
		ChatRoom:      status.ChatRoom,
		GroupName:     status.GroupName,
		Actor:         actor,
		Reason:        reason,
		TakeoverCount: status.TakeoverCountToday,
		Threshold:     threshold,
		At:            at,
	})
}
