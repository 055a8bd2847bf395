package modconcierge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelRuntimeConfigUpdated = "modconcierge_reload_runtime_config"
	postgresNotifyChannelReloadWhispers       = "modconcierge_reload_whispers"
	postgresNotifyChannelGuildSettings        = "modconcierge_guild_settings"
	postgresNotifyChannelStop                 = "modconcierge_stop"
	recordSeparator                           = string(rune(30))
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma mmap_size = 8000000000;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
	dbListenRetryInterval = 5 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps for
// creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a gorm connection. With sqlite, concurrent writes are
// disabled and every write holds mu, so writers queue up behind each
// other instead of failing with SQLITE_BUSY.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase returns a [DBI] backed by the given gorm connection.
// If log is nil, the default logger is used.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// begin takes the write lock (when concurrent writes are disabled), and
// applies the default operation timeout if ctx has no deadline. The
// returned func must be called when the write is finished.
func (d *database) begin(ctx context.Context) (context.Context, func()) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
	}
	ctx, cancel := operationContext(ctx)
	return ctx, func() {
		cancel()
		if !d.enableConcurrentWrites {
			d.mu.Unlock()
		}
	}
}

// operationContext applies dbOperationTimeout when ctx has no deadline
func operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// reader returns a read session on db bounded by [operationContext]
func reader(ctx context.Context, db DBI) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := operationContext(ctx)
	return db.DB().WithContext(ctx), cancel
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	ctx context.Context,
	model any,
	values map[string]any,
	query any,
	conds ...any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Where(query, conds...).Updates(values)
	return rv.RowsAffected, rv.Error
}

// Upsert inserts value, or on a conflict with the given columns,
// updates the columns in updateColumns.
func (d *database) Upsert(
	ctx context.Context,
	value any,
	conflictColumns []string,
	updateColumns []string,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		columns = append(columns, clause.Column{Name: c})
	}
	rv := d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   columns,
			DoUpdates: clause.AssignmentColumns(updateColumns),
		},
	).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	ctx, done := d.begin(ctx)
	defer done()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// DBI defines the interface for database writes. Reads go through DB()
// directly. [database] implements this interface for 'real' DB operations.
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	UpdatesWhere(
		ctx context.Context,
		model any,
		values map[string]any,
		query any,
		conds ...any,
	) (rowsAffected int64, err error)
	Upsert(
		ctx context.Context,
		value any,
		conflictColumns []string,
		updateColumns []string,
	) (rowsAffected int64, err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and runs migrations for all models.
//
// databaseType must be 'sqlite' or 'postgres'. database is the
// connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		defaultLogWriter,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if err = migrate(ctx, db); err != nil {
		return db, fmt.Errorf("error running migrations: %w", err)
	}
	return db, nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(
				&RuntimeConfig{},
				&WhisperThread{},
				&GuildSetting{},
				&ModerationLog{},
				&InteractionLog{},
				&MemberLevel{},
			)
		},
	)
}

// getDB initializes and returns a GORM database connection based on the
// specified database type. Driver errors for unique constraint
// violations are translated to [gorm.ErrDuplicatedKey].
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// notifyTargets are the local channels a [DBNotifier] forwards
// notifications to.
type notifyTargets struct {
	runtimeConfig chan bool
	whispers      chan bool
	guildSettings chan string
	stop          chan struct{}
}

func newNotifyTargets(stop chan struct{}) notifyTargets {
	return notifyTargets{
		runtimeConfig: make(chan bool, 1),
		whispers:      make(chan bool, 1),
		guildSettings: make(chan string, 16),
		stop:          stop,
	}
}

// DBNotifier announces changes to every bot instance sharing a database,
// including the sending instance itself.
type DBNotifier interface {
	// ReloadRuntimeConfig tells instances to reload their runtime
	// configuration from the DB
	ReloadRuntimeConfig(ctx context.Context) bool

	// ReloadWhispers tells instances to rebuild their whisper registry
	// from the open records in the DB
	ReloadWhispers(ctx context.Context) bool

	// GuildSettingsChanged tells instances to drop their cached settings
	// for guildID
	GuildSettingsChanged(ctx context.Context, guildID string) bool

	// Stop sends a shutdown signal to all bots
	Stop(ctx context.Context) bool

	// Channels returns the channels [DBNotifier.Listen] should be
	// called for. Empty if the notifier doesn't listen.
	Channels() []string

	// ID returns the identifier for this notifier. Instances use this ID
	// to filter out their own notifications.
	ID() string

	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(
	databaseType string,
	dsn string,
	db DBI,
	targets notifyTargets,
	logger *slog.Logger,
) (DBNotifier, error) {
	notifyID := uuid.NewString()
	log := logger.With(loggerNameKey, "db_notifier", "notifier_id", notifyID)
	local := &localNotifier{logger: log, targets: targets, notifyID: notifyID}

	switch databaseType {
	case dbTypeSQLite:
		return local, nil
	case dbTypePostgres:
		return &postgresNotifier{
			localNotifier: local,
			db:            db,
			dsn:           dsn,
		}, nil
	default:
		return nil, fmt.Errorf("invalid database type: %q", databaseType)
	}
}

// localNotifier delivers notifications to this process only. It's used
// as-is with sqlite, which can't be shared between instances.
type localNotifier struct {
	logger   *slog.Logger
	targets  notifyTargets
	notifyID string
}

func (s *localNotifier) ID() string {
	return s.notifyID
}

func (*localNotifier) Channels() []string {
	return nil
}

func (s *localNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (s *localNotifier) ReloadRuntimeConfig(context.Context) bool {
	s.logger.Info("got runtime config reload notification")
	return signalPending(s.targets.runtimeConfig)
}

func (s *localNotifier) ReloadWhispers(context.Context) bool {
	s.logger.Info("got whisper reload notification")
	return signalPending(s.targets.whispers)
}

// GuildSettingsChanged doesn't block. If the channel is full the signal
// is dropped.
func (s *localNotifier) GuildSettingsChanged(ctx context.Context, guildID string) bool {
	s.logger.InfoContext(ctx, "got guild settings notification", "guild_id", guildID)
	select {
	case s.targets.guildSettings <- guildID:
		return true
	default:
		s.logger.WarnContext(ctx, "guild settings signal dropped", "guild_id", guildID)
		return false
	}
}

func (s *localNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.targets.stop <- struct{}{}:
		return true
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
}

// signalPending does a non-blocking send on a buffered reload channel.
// A full channel means a reload is already pending, which is just as good.
func signalPending(ch chan bool) bool {
	select {
	case ch <- true:
	default:
	}
	return true
}

// postgresNotifier broadcasts with pg_notify, and forwards the same
// notification locally, since the LISTEN loop ignores its own payloads.
type postgresNotifier struct {
	*localNotifier
	db  DBI
	dsn string
}

func (*postgresNotifier) Channels() []string {
	return []string{
		postgresNotifyChannelRuntimeConfigUpdated,
		postgresNotifyChannelReloadWhispers,
		postgresNotifyChannelGuildSettings,
		postgresNotifyChannelStop,
	}
}

func (p *postgresNotifier) notify(ctx context.Context, channel string, payload string) bool {
	err := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			"channel", channel,
			tint.Err(err),
		)
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel)
	return true
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	sent := p.notify(ctx, postgresNotifyChannelRuntimeConfigUpdated, p.ID())
	p.localNotifier.ReloadRuntimeConfig(ctx)
	return sent
}

func (p *postgresNotifier) ReloadWhispers(ctx context.Context) bool {
	sent := p.notify(ctx, postgresNotifyChannelReloadWhispers, p.ID())
	p.localNotifier.ReloadWhispers(ctx)
	return sent
}

func (p *postgresNotifier) GuildSettingsChanged(ctx context.Context, guildID string) bool {
	sent := p.notify(
		ctx,
		postgresNotifyChannelGuildSettings,
		newGuildSettingsNotificationMessage(p.ID(), guildID),
	)
	p.localNotifier.GuildSettingsChanged(ctx, guildID)
	return sent
}

// Stop broadcasts the stop signal to the other instances, then stops
// this one.
func (p *postgresNotifier) Stop(ctx context.Context) bool {
	sent := p.notify(ctx, postgresNotifyChannelStop, p.ID())
	return p.localNotifier.Stop(ctx) && sent
}

// Listen blocks, forwarding notifications received on channel to the
// local targets until ctx is canceled.
func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "starting db listener")

	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		logger.ErrorContext(ctx, "error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.ErrorContext(ctx, "error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		logger.ErrorContext(ctx, "error setting up listener", tint.Err(err))
		return err
	}
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(dbListenRetryInterval):
			}
			continue
		}
		p.handleNotification(ctx, logger, channel, notification.Payload)
	}
	return nil
}

func (p *postgresNotifier) handleNotification(
	ctx context.Context,
	logger *slog.Logger,
	channel string,
	payload string,
) {
	notifierID, guildID := parseGuildSettingsNotification(payload)
	if notifierID == p.ID() {
		logger.DebugContext(ctx, "received notification from self, ignoring")
		return
	}

	switch channel {
	case postgresNotifyChannelRuntimeConfigUpdated:
		logger.InfoContext(ctx, "received notification for runtime config update")
		signalPending(p.targets.runtimeConfig)
	case postgresNotifyChannelReloadWhispers:
		logger.InfoContext(ctx, "received notification to reload whispers")
		signalPending(p.targets.whispers)
	case postgresNotifyChannelGuildSettings:
		logger.InfoContext(ctx, "received guild settings notification", "guild_id", guildID)
		select {
		case p.targets.guildSettings <- guildID:
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out forwarding guild settings signal", "guild_id", guildID)
		}
	case postgresNotifyChannelStop:
		logger.InfoContext(ctx, "received stop signal via NOTIFY")
		select {
		case p.targets.stop <- struct{}{}:
			logger.Info("forwarded stop signal")
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out forwarding stop signal")
		}
	default:
		logger.Warn("received unknown notification")
	}
}

// parseGuildSettingsNotification splits a notification payload into the
// sender's notifier ID and, for guild settings notifications, the
// guild ID. Other payloads contain only the notifier ID.
func parseGuildSettingsNotification(s string) (notifierID, guildID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newGuildSettingsNotificationMessage(notifierID string, guildID string) string {
	return strings.Join([]string{notifierID, guildID}, recordSeparator)
}
