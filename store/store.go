package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// resumeThreshold gates checkpoint resume: below it a fresh start is cheaper
// than trusting a partial index.
const resumeThreshold = 100_000

// Status is the tri-state of one indexing pass.
type Status int

const (
	StatusUnknown Status = iota
	StatusInProgress
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Store is the per-archive relational layer.  It exposes coarse, batched
// operations; each batch call is one transactional unit.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

type Option func(*Store) error

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) error { s.logger = l; return nil }
}

// Open opens (creating if absent) the database file at path and migrates the
// schema.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop()}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	// Foreign keys stay declarative: dumps legitimately carry answers whose
	// question never appears, and enforcement would abort the whole pass on
	// the first orphan.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open %q: %w", path, err)
	}
	if err := db.AutoMigrate(&Tag{}, &Question{}, &Answer{}, &QuestionTag{}, &IndexState{}); err != nil {
		return nil, fmt.Errorf("store: failed to migrate %q: %w", path, err)
	}

	s.db = db
	return s, nil
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// ClearTags drops all tags and the question↔tag join rows that reference
// them.
func (s *Store) ClearTags(ctx context.Context) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM question_tags").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM tags").Error
	})
}

// ClearPosts drops questions, answers and the join rows.
func (s *Store) ClearPosts(ctx context.Context) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		for _, stmt := range []string{
			"DELETE FROM question_tags",
			"DELETE FROM answers",
			"DELETE FROM questions",
		} {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertTags writes one batch of tags in a single transaction.
func (s *Store) InsertTags(ctx context.Context, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&tags).Error
	})
}

// InsertPosts writes one classified batch in a single transaction.
func (s *Store) InsertPosts(ctx context.Context, questions []Question, answers []Answer, joins []QuestionTag) error {
	if len(questions) == 0 && len(answers) == 0 && len(joins) == 0 {
		return nil
	}
	return s.transact(ctx, func(tx *gorm.DB) error {
		if len(questions) > 0 {
			if err := tx.Omit("Answers").Create(&questions).Error; err != nil {
				return err
			}
		}
		if len(answers) > 0 {
			if err := tx.Create(&answers).Error; err != nil {
				return err
			}
		}
		if len(joins) > 0 {
			if err := tx.Create(&joins).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TagIDsByName resolves tag names to ids; unknown names are dropped.
func (s *Store) TagIDsByName(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).Model(&Tag{}).Where("name IN ?", names).Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: failed to resolve tags: %w", err)
	}
	return ids, nil
}

// TagsPage returns one page of tags ordered by usage, most used first.
func (s *Store) TagsPage(ctx context.Context, offset, limit int) ([]Tag, error) {
	var tags []Tag
	err := s.db.WithContext(ctx).
		Order("count_usage DESC").
		Offset(offset).Limit(limit).
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("store: failed to page tags: %w", err)
	}
	return tags, nil
}

// QuestionByID fetches one question with its answers preloaded; nil if absent.
func (s *Store) QuestionByID(ctx context.Context, id int64) (*Question, error) {
	var q Question
	err := s.db.WithContext(ctx).Preload("Answers").First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to fetch question %d: %w", id, err)
	}
	return &q, nil
}

// QuestionTags returns the tags attached to one question.
func (s *Store) QuestionTags(ctx context.Context, id int64) ([]Tag, error) {
	var tags []Tag
	err := s.db.WithContext(ctx).
		Joins("JOIN question_tags qt ON qt.tag_id = tags.id").
		Where("qt.question_id = ?", id).
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("store: failed to fetch tags of question %d: %w", id, err)
	}
	return tags, nil
}

// Questions pages questions carrying every tag in required (AND semantics),
// answers preloaded.  With no required tags it pages the whole table.
func (s *Store) Questions(ctx context.Context, offset, limit int, required []string) ([]Question, error) {
	q := s.db.WithContext(ctx).Model(&Question{})
	if len(required) > 0 {
		q = q.
			Joins("JOIN question_tags qt ON qt.question_id = questions.id").
			Joins("JOIN tags t ON t.id = qt.tag_id").
			Where("t.name IN ?", required).
			Group("questions.id").
			Having("COUNT(DISTINCT t.id) = ?", len(required))
	}
	var out []Question
	err := q.Preload("Answers").Offset(offset).Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: failed to query questions: %w", err)
	}
	return out, nil
}

// ResumeCheckpoint reports where an interrupted post pass can pick up: the
// largest indexed post id and the byte immediately after its row.  Small
// indexes report (0, 0); the caller clears and starts over.
func (s *Store) ResumeCheckpoint(ctx context.Context) (lastID, nextByte int64, err error) {
	var count int64
	if err = s.db.WithContext(ctx).Model(&Question{}).Count(&count).Error; err != nil {
		return 0, 0, fmt.Errorf("store: failed to count questions: %w", err)
	}
	if count <= resumeThreshold {
		return 0, 0, nil
	}

	var q Question
	if err = s.db.WithContext(ctx).Order("id DESC").First(&q).Error; err != nil {
		return 0, 0, fmt.Errorf("store: failed to fetch last question: %w", err)
	}
	lastID, nextByte = q.ID, q.Start+q.Length

	var a Answer
	err = s.db.WithContext(ctx).Order("id DESC").First(&a).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return 0, 0, fmt.Errorf("store: failed to fetch last answer: %w", err)
	case a.ID > lastID:
		lastID, nextByte = a.ID, a.Start+a.Length
	}
	return lastID, nextByte, nil
}

// IndexStatus reports the pass state for name under the given content hash.
// A recorded pass against a different hash counts as unknown.
func (s *Store) IndexStatus(ctx context.Context, name, hash string) (Status, error) {
	var st IndexState
	err := s.db.WithContext(ctx).First(&st, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("store: failed to fetch index state %q: %w", name, err)
	}
	if st.HashFile != hash {
		return StatusUnknown, nil
	}
	if st.IndexDone {
		return StatusDone, nil
	}
	return StatusInProgress, nil
}

// MarkIndex upserts the pass state for name.
func (s *Store) MarkIndex(ctx context.Context, name, hash string, done bool) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash_file", "index_done"}),
	}).Create(&IndexState{Name: name, HashFile: hash, IndexDone: done}).Error
	if err != nil {
		return fmt.Errorf("store: failed to mark index %q: %w", name, err)
	}
	return nil
}

// Counts reports table sizes, used for progress logging and tests.
func (s *Store) Counts(ctx context.Context) (questions, answers, tags int64, err error) {
	db := s.db.WithContext(ctx)
	if err = db.Model(&Question{}).Count(&questions).Error; err != nil {
		return
	}
	if err = db.Model(&Answer{}).Count(&answers).Error; err != nil {
		return
	}
	err = db.Model(&Tag{}).Count(&tags).Error
	return
}

func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		return fmt.Errorf("store: transaction failed: %w", err)
	}
	return nil
}
