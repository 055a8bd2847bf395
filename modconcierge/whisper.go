package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"log/slog"
)

const (
	columnGuildID   = "guild_id"
	columnUserID    = "user_id"
	columnChannelID = "channel_id"
	columnThreadID  = "thread_id"
	columnIsOpen    = "is_open"
	columnClosedAt  = "closed_at"
	columnClosedBy  = "closed_by"
	columnCreatedAt = "created_at"

	columnWhisperCloseReason = "close_reason"

	whisperNoReason = "No reason provided"
)

// WhisperThread is a private thread opened by a user to talk to the
// guild's staff. At most one thread per user per guild is open at a
// time. Rows are never deleted, only closed.
//
//nolint:lll // struct tags can't be split
type WhisperThread struct {
	ModelUintID

	GuildID string `json:"guild_id" gorm:"not null;index:idx_whisper_guild_open,priority:1;uniqueIndex:idx_whisper_open_user,where:is_open = true"`
	UserID  string `json:"user_id" gorm:"not null;uniqueIndex:idx_whisper_open_user,where:is_open = true"`

	// ThreadID is the ID of the private thread
	ThreadID string `json:"thread_id" gorm:"not null;uniqueIndex"`

	// ChannelID is the management channel the thread was started in
	ChannelID string `json:"channel_id" gorm:"not null"`

	Reason string `json:"reason" gorm:"type:string"`

	IsOpen bool `json:"is_open" gorm:"not null;index:idx_whisper_guild_open,priority:2;check:chk_whisper_closed,(is_open AND closed_at IS NULL) OR (NOT is_open AND closed_at IS NOT NULL)"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime:milli"`

	// ClosedAt is the unix millisecond timestamp the thread was closed,
	// nil while open
	ClosedAt    *int64  `json:"closed_at"`
	ClosedBy    *string `json:"closed_by"`
	CloseReason *string `json:"close_reason"`
}

func (WhisperThread) TableName() string {
	return "whispers"
}

func (w WhisperThread) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("id", uint64(w.ID)),
		slog.String(columnGuildID, w.GuildID),
		slog.String(columnUserID, w.UserID),
		slog.String(columnThreadID, w.ThreadID),
		slog.Bool(columnIsOpen, w.IsOpen),
	}
	if w.ClosedAt != nil {
		attrs = append(attrs, slog.Int64(columnClosedAt, *w.ClosedAt))
	}
	return slog.GroupValue(attrs...)
}

// WhisperStore persists [WhisperThread] records.
type WhisperStore interface {
	// CreateWhisper inserts an open record. If the user already has an
	// open record in the guild, the error wraps [gorm.ErrDuplicatedKey].
	CreateWhisper(ctx context.Context, w *WhisperThread) error

	// CloseWhisper marks the open record for threadID closed, and
	// returns the number of rows updated, which is 0 if the thread
	// wasn't open.
	CloseWhisper(
		ctx context.Context,
		guildID string,
		threadID string,
		closedBy string,
		reason string,
		closedAt int64,
	) (int64, error)

	// OpenWhisperByThread returns the open record for the thread, or
	// [gorm.ErrRecordNotFound]
	OpenWhisperByThread(ctx context.Context, guildID, threadID string) (*WhisperThread, error)

	// OpenWhisperByUser returns the user's open record for the guild,
	// or [gorm.ErrRecordNotFound]
	OpenWhisperByUser(ctx context.Context, guildID, userID string) (*WhisperThread, error)

	// OpenWhispersByGuild returns every open record in the guild, oldest first
	OpenWhispersByGuild(ctx context.Context, guildID string) ([]WhisperThread, error)

	// OpenWhispers returns every open record, across all guilds
	OpenWhispers(ctx context.Context) ([]WhisperThread, error)
}

// gormWhisperStore is the [WhisperStore] used by the bot. Writes go
// through the [DBI] so they're serialized on sqlite.
type gormWhisperStore struct {
	db DBI
}

func newWhisperStore(db DBI) *gormWhisperStore {
	return &gormWhisperStore{db: db}
}

func (s *gormWhisperStore) CreateWhisper(ctx context.Context, w *WhisperThread) error {
	if w.GuildID == "" || w.UserID == "" || w.ThreadID == "" {
		return errors.New("guild, user and thread IDs are required")
	}
	w.IsOpen = true
	w.ClosedAt = nil
	w.ClosedBy = nil
	w.CloseReason = nil

	if _, err := s.db.Create(ctx, w); err != nil {
		return fmt.Errorf("error creating whisper record: %w", err)
	}
	return nil
}

func (s *gormWhisperStore) CloseWhisper(
	ctx context.Context,
	guildID string,
	threadID string,
	closedBy string,
	reason string,
	closedAt int64,
) (int64, error) {
	rows, err := s.db.UpdatesWhere(
		ctx,
		&WhisperThread{},
		map[string]any{
			columnIsOpen:             false,
			columnClosedAt:           closedAt,
			columnClosedBy:           closedBy,
			columnWhisperCloseReason: reason,
		},
		"guild_id = ? AND thread_id = ? AND is_open = ?",
		guildID,
		threadID,
		true,
	)
	if err != nil {
		return rows, fmt.Errorf("error closing whisper record: %w", err)
	}
	return rows, nil
}

func (s *gormWhisperStore) OpenWhisperByThread(
	ctx context.Context,
	guildID string,
	threadID string,
) (*WhisperThread, error) {
	var w WhisperThread
	db, cancel := reader(ctx, s.db)
	defer cancel()
	err := db.Where(
		"guild_id = ? AND thread_id = ? AND is_open = ?",
		guildID,
		threadID,
		true,
	).Take(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *gormWhisperStore) OpenWhisperByUser(
	ctx context.Context,
	guildID string,
	userID string,
) (*WhisperThread, error) {
	var w WhisperThread
	db, cancel := reader(ctx, s.db)
	defer cancel()
	err := db.Where(
		"guild_id = ? AND user_id = ? AND is_open = ?",
		guildID,
		userID,
		true,
	).Take(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *gormWhisperStore) OpenWhispersByGuild(
	ctx context.Context,
	guildID string,
) ([]WhisperThread, error) {
	var records []WhisperThread
	db, cancel := reader(ctx, s.db)
	defer cancel()
	err := db.Where(
		"guild_id = ? AND is_open = ?",
		guildID,
		true,
	).Order("created_at asc, id asc").Find(&records).Error
	return records, err
}

func (s *gormWhisperStore) OpenWhispers(ctx context.Context) ([]WhisperThread, error) {
	var records []WhisperThread
	db, cancel := reader(ctx, s.db)
	defer cancel()
	err := db.Where(
		"is_open = ?",
		true,
	).Order("id asc").Find(&records).Error
	return records, err
}

// isRecordNotFound reports whether err is gorm's not found error
func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
