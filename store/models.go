package store

// Tag is one row of the dump's tag file.
type Tag struct {
	ID         int64  `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex;not null"`
	CountUsage int64
}

// Question records where a question row lives inside the decompressed posts
// stream, plus the metadata queries filter on.  AcceptedAnswerID carries no
// foreign key: the referenced answer is usually indexed later in the same
// pass.
type Question struct {
	ID               int64 `gorm:"primaryKey"`
	Start            int64 `gorm:"not null"`
	Length           int64 `gorm:"not null"`
	Score            int64
	AcceptedAnswerID *int64

	Answers []Answer `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// Answer records the byte range of an answer row and its parent question.
type Answer struct {
	ID         int64 `gorm:"primaryKey"`
	Start      int64 `gorm:"not null"`
	Length     int64 `gorm:"not null"`
	Score      int64
	QuestionID int64 `gorm:"index"`
}

// QuestionTag joins questions to tags.
type QuestionTag struct {
	QuestionID int64 `gorm:"primaryKey;autoIncrement:false"`
	TagID      int64 `gorm:"primaryKey;autoIncrement:false"`
}

// IndexState tracks one indexing pass per row-file kind ("posts" or "tags"),
// keyed by the sampled digest of the source archive at the time of the pass.
type IndexState struct {
	Name      string `gorm:"primaryKey"`
	HashFile  string `gorm:"not null"`
	IndexDone bool
}
