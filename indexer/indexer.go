// Package indexer drives the two indexing passes of a dump archive: tags,
// then posts.  Both passes stream rows from the archive reader, classify
// them, and persist them in batched transactions.  Passes are resumable and
// keyed by the archive content digest.
package indexer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/store"
)

const (
	tagBatchSize  = 1_000
	postBatchSize = 4_096

	// tailScanSize is how much of the stream end is scanned for the last
	// post id, the denominator of progress reporting.
	tailScanSize = 512 << 10
)

// tagListPattern pulls tag names out of a question's `Tags` attribute,
// formatted as `<name><name>…`.
var tagListPattern = regexp.MustCompile(`<([^>]+)>`)

type Indexer struct {
	posts *archive.Reader
	tags  *archive.Reader
	store *store.Store

	o options
}

func New(posts, tags *archive.Reader, st *store.Store, opts ...Option) (*Indexer, error) {
	ix := &Indexer{posts: posts, tags: tags, store: st}
	ix.o.setDefault()
	for _, o := range opts {
		if err := o(&ix.o); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Run executes the tag pass followed by the post pass.
func (ix *Indexer) Run(ctx context.Context) error {
	if err := ix.IndexTags(ctx); err != nil {
		return err
	}
	return ix.IndexPosts(ctx)
}

// IndexTags populates the tag table from the tags row file.  A pass already
// recorded against the current archive digest is a no-op.  Otherwise both tag
// and post tables are cleared: the join table references tag ids, so a tag
// reindex forces a post reindex.
func (ix *Indexer) IndexTags(ctx context.Context) error {
	digest := ix.tags.Digest()
	name := ix.tags.Name()

	status, err := ix.store.IndexStatus(ctx, "tags", digest)
	if err != nil {
		return err
	}
	if status == store.StatusDone {
		ix.o.logger.Info("tags already indexed", zap.String("archive", name))
		return nil
	}

	ix.o.logger.Info("start tag pass", zap.String("archive", name))
	if err := ix.store.ClearTags(ctx); err != nil {
		return err
	}
	if err := ix.store.ClearPosts(ctx); err != nil {
		return err
	}
	// Drop the recorded post pass so the next IndexPosts starts over.
	if err := ix.store.MarkIndex(ctx, "posts", "", false); err != nil {
		return err
	}

	it := ix.tags.Lines(ctx, 0)
	defer it.Stop()

	batch := make([]store.Tag, 0, tagBatchSize)
	for {
		line, ok := it.Next()
		if !ok {
			break
		}
		attrs, perr := archive.ParseRow(line.Data)
		if perr != nil {
			ix.o.logger.Debug("skipping line", zap.String("archive", name), zap.Error(perr))
			continue
		}
		id, ierr := strconv.ParseInt(attrs["Id"], 10, 64)
		if ierr != nil || attrs["TagName"] == "" {
			ix.o.logger.Debug("skipping tag row without id or name", zap.String("archive", name))
			continue
		}
		count, _ := strconv.ParseInt(attrs["Count"], 10, 64)
		batch = append(batch, store.Tag{ID: id, Name: attrs["TagName"], CountUsage: count})

		if len(batch) >= tagBatchSize {
			if err := ix.store.InsertTags(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("tag pass aborted: %w", err)
	}
	if err := ix.store.InsertTags(ctx, batch); err != nil {
		return err
	}
	if err := ix.store.MarkIndex(ctx, "tags", digest, true); err != nil {
		return err
	}
	ix.o.logger.Info("end tag pass", zap.String("archive", name))
	return nil
}

// IndexPosts populates questions, answers and the join table from the posts
// row file.  An interrupted pass resumes from the byte after the last
// committed batch.
func (ix *Indexer) IndexPosts(ctx context.Context) error {
	digest := ix.posts.Digest()
	name := ix.posts.Name()

	status, err := ix.store.IndexStatus(ctx, "posts", digest)
	if err != nil {
		return err
	}
	switch status {
	case store.StatusDone:
		ix.o.logger.Info("posts already indexed", zap.String("archive", name))
		return nil
	case store.StatusUnknown:
		if err := ix.store.ClearPosts(ctx); err != nil {
			return err
		}
		if err := ix.store.MarkIndex(ctx, "posts", digest, false); err != nil {
			return err
		}
	}

	indexed, resumeByte, err := ix.store.ResumeCheckpoint(ctx)
	if err != nil {
		return err
	}
	if resumeByte == 0 && status == store.StatusInProgress {
		// Below the resume threshold a fresh start is cheaper.
		if err := ix.store.ClearPosts(ctx); err != nil {
			return err
		}
		indexed = 0
	}

	lastID := ix.scanLastID(ctx)
	ix.o.logger.Info("start post pass", zap.String("archive", name),
		zap.Int64("resumeByte", resumeByte), zap.Int64("lastID", lastID))

	it := ix.posts.Lines(ctx, resumeByte)
	defer it.Stop()

	var (
		questions []store.Question
		answers   []store.Answer
		joins     []store.QuestionTag
		batched   int
	)
	flush := func() error {
		if err := ix.store.InsertPosts(ctx, questions, answers, joins); err != nil {
			return err
		}
		indexed += int64(batched)
		ix.o.progress(indexed, lastID)
		ix.o.logger.Info("indexed posts", zap.String("archive", name),
			zap.Int("batch", batched), zap.Int64("indexed", indexed), zap.Int64("lastID", lastID))
		questions, answers, joins = questions[:0], answers[:0], joins[:0]
		batched = 0
		return nil
	}

	for {
		line, ok := it.Next()
		if !ok {
			break
		}
		attrs, perr := archive.ParseRow(line.Data)
		if perr != nil {
			ix.o.logger.Debug("skipping line", zap.String("archive", name), zap.Error(perr))
			continue
		}
		id, ierr := strconv.ParseInt(attrs["Id"], 10, 64)
		if ierr != nil {
			ix.o.logger.Debug("skipping row without id", zap.String("archive", name))
			continue
		}
		score, _ := strconv.ParseInt(attrs["Score"], 10, 64)
		start := resumeByte + line.Offset
		length := int64(len(line.Data))

		switch attrs["PostTypeId"] {
		case "1":
			q := store.Question{ID: id, Start: start, Length: length, Score: score}
			if raw := attrs["AcceptedAnswerId"]; raw != "" {
				if accepted, aerr := strconv.ParseInt(raw, 10, 64); aerr == nil {
					q.AcceptedAnswerID = &accepted
				}
			}
			if raw := attrs["Tags"]; raw != "" {
				names := make([]string, 0, 4)
				for _, m := range tagListPattern.FindAllStringSubmatch(raw, -1) {
					names = append(names, m[1])
				}
				ids, terr := ix.store.TagIDsByName(ctx, names)
				if terr != nil {
					return terr
				}
				for _, tagID := range ids {
					joins = append(joins, store.QuestionTag{QuestionID: id, TagID: tagID})
				}
			}
			questions = append(questions, q)
		case "2":
			parent, perr := strconv.ParseInt(attrs["ParentId"], 10, 64)
			if perr != nil {
				ix.o.logger.Debug("skipping answer without parent", zap.String("archive", name))
				continue
			}
			answers = append(answers, store.Answer{
				ID: id, Start: start, Length: length, Score: score, QuestionID: parent,
			})
		default:
			continue
		}

		batched++
		if batched >= postBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("post pass aborted: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	if err := ix.store.MarkIndex(ctx, "posts", digest, true); err != nil {
		return err
	}
	ix.o.logger.Info("end post pass", zap.String("archive", name), zap.Int64("indexed", indexed))
	return nil
}

// scanLastID streams the stream tail and reports the id of the final row,
// used purely for progress reporting.  Failures degrade to zero.
func (ix *Indexer) scanLastID(ctx context.Context) int64 {
	start := ix.posts.Size() - tailScanSize
	if start < 0 {
		start = 0
	}
	it := ix.posts.Lines(ctx, start)
	defer it.Stop()

	var lastID int64
	for {
		line, ok := it.Next()
		if !ok {
			break
		}
		attrs, err := archive.ParseRow(line.Data)
		if err != nil {
			continue
		}
		if id, err := strconv.ParseInt(attrs["Id"], 10, 64); err == nil {
			lastID = id
		}
	}
	return lastID
}
