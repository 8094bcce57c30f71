package mediapod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ Storage = &PostgresStorage{}

// PostgresStorage implements the Storage interface on PostgreSQL through gorm.
type PostgresStorage struct {
	db *gorm.DB
}

type sessionRow struct {
	SessionID    string `gorm:"primaryKey"`
	VideoID      string
	CollectionID string
	CreatedAt    int64  `gorm:"autoCreateTime:false"`
	UpdatedAt    int64  `gorm:"autoUpdateTime:false"`
	Metadata     string `gorm:"type:jsonb"`
}

func (sessionRow) TableName() string { return "sessions" }

type conversationRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;not null"`
	ConvID    string `gorm:"not null"`
	MsgID     string `gorm:"uniqueIndex;not null"`
	MsgType   string `gorm:"not null"`
	Agents    string `gorm:"type:jsonb"`
	Actions   string `gorm:"type:jsonb"`
	Content   string `gorm:"type:jsonb"`
	Status    string
	CreatedAt int64  `gorm:"autoCreateTime:false"`
	UpdatedAt int64  `gorm:"autoUpdateTime:false"`
	Metadata  string `gorm:"type:jsonb"`
}

func (conversationRow) TableName() string { return "conversations" }

type contextRow struct {
	SessionID   string `gorm:"primaryKey"`
	ContextData string `gorm:"type:jsonb"`
	CreatedAt   int64  `gorm:"autoCreateTime:false"`
	UpdatedAt   int64  `gorm:"autoUpdateTime:false"`
	Metadata    string `gorm:"type:jsonb"`
}

func (contextRow) TableName() string { return "context_messages" }

// NewPostgresStorage connects to dsn and migrates the tables.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	storage := &PostgresStorage{db: db}
	if err := storage.HealthCheck(context.Background()); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return storage, nil
}

func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck pings the database and migrates missing tables.
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&sessionRow{}, &conversationRow{}, &contextRow{}); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateSession(ctx context.Context, rec SessionRecord) error {
	metadata, err := marshalColumn(rec.Metadata)
	if err != nil {
		return err
	}
	row := sessionRow{
		SessionID:    rec.SessionID,
		VideoID:      rec.VideoID,
		CollectionID: rec.CollectionID,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		Metadata:     metadata,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to query session: %w", err)
	}
	return row.record()
}

func (s *PostgresStorage) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	sessions := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	return sessions, nil
}

func (s *PostgresStorage) SaveMessage(ctx context.Context, rec MessageRecord) error {
	row, err := newConversationRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "msg_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"agents", "actions", "content", "status", "updated_at", "metadata"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		err = tx.Model(&sessionRow{}).Where("session_id = ?", rec.SessionID).
			Update("updated_at", time.Now().Unix()).Error
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) GetMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	messages := make([]MessageRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		messages = append(messages, rec)
	}
	return messages, nil
}

func (s *PostgresStorage) SaveContext(ctx context.Context, rec ContextRecord) error {
	data, err := marshalColumn(rec.Messages)
	if err != nil {
		return err
	}
	metadata, err := marshalColumn(rec.Metadata)
	if err != nil {
		return err
	}
	row := contextRow{
		SessionID:   rec.SessionID,
		ContextData: data,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		Metadata:    metadata,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetContext(ctx context.Context, sessionID string) (ContextRecord, error) {
	var row contextRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ContextRecord{SessionID: sessionID, Messages: []ContextMessage{}, Metadata: map[string]any{}}, nil
	}
	if err != nil {
		return ContextRecord{}, fmt.Errorf("failed to query context: %w", err)
	}
	rec := ContextRecord{SessionID: row.SessionID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
	if err := unmarshalColumn(nullString(row.ContextData), &rec.Messages); err != nil {
		return ContextRecord{}, err
	}
	if err := unmarshalColumn(nullString(row.Metadata), &rec.Metadata); err != nil {
		return ContextRecord{}, err
	}
	if rec.Messages == nil {
		rec.Messages = []ContextMessage{}
	}
	return rec, nil
}

func (s *PostgresStorage) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&conversationRow{}, &contextRow{}, &sessionRow{}} {
			if err := tx.Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
			}
		}
		return nil
	})
}

func (r sessionRow) record() (SessionRecord, error) {
	rec := SessionRecord{
		SessionID:    r.SessionID,
		VideoID:      r.VideoID,
		CollectionID: r.CollectionID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := unmarshalColumn(nullString(r.Metadata), &rec.Metadata); err != nil {
		return SessionRecord{}, err
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return rec, nil
}

func newConversationRow(rec MessageRecord) (conversationRow, error) {
	row := conversationRow{
		SessionID: rec.SessionID,
		ConvID:    rec.ConvID,
		MsgID:     rec.MsgID,
		MsgType:   string(rec.MsgType),
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	var err error
	if row.Agents, err = marshalColumn(rec.Agents); err != nil {
		return row, err
	}
	if row.Actions, err = marshalColumn(rec.Actions); err != nil {
		return row, err
	}
	if row.Content, err = marshalColumn(rec.Content); err != nil {
		return row, err
	}
	if row.Metadata, err = marshalColumn(rec.Metadata); err != nil {
		return row, err
	}
	return row, nil
}

func (r conversationRow) record() (MessageRecord, error) {
	rec := MessageRecord{
		SessionID: r.SessionID,
		ConvID:    r.ConvID,
		MsgID:     r.MsgID,
		MsgType:   MsgType(r.MsgType),
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, col := range []struct {
		raw string
		dst any
	}{
		{r.Agents, &rec.Agents},
		{r.Actions, &rec.Actions},
		{r.Content, &rec.Content},
		{r.Metadata, &rec.Metadata},
	} {
		if err := unmarshalColumn(nullString(col.raw), col.dst); err != nil {
			return MessageRecord{}, err
		}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
