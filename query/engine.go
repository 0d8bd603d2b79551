// Package query assembles enriched post documents by combining relational
// metadata with random-access reads of the raw rows inside the compressed
// archive.
package query

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/store"
)

// Document is one assembled post payload.  Attribute values stay verbatim
// strings, exactly as the dump carries them.
type Document map[string]any

// TagInfo is the per-tag payload of TagsList.
type TagInfo struct {
	CountUsage int64 `json:"count_usage"`
}

type Engine struct {
	posts *archive.Reader
	store *store.Store

	logger *zap.Logger
}

type Option func(*Engine) error

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) error { e.logger = l; return nil }
}

func New(posts *archive.Reader, st *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{posts: posts, store: st, logger: zap.NewNop()}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// TagsList returns one page of tags, most used first, keyed by name.
func (e *Engine) TagsList(ctx context.Context, offset, limit int) (map[string]TagInfo, error) {
	tags, err := e.store.TagsPage(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TagInfo, len(tags))
	for _, t := range tags {
		out[t.Name] = TagInfo{CountUsage: t.CountUsage}
	}
	return out, nil
}

// GetPost assembles the full document of one question: its own row, every
// answer row, and its tag names.  The accepted answer, when present in the
// dump, is lifted out of the answers map.  A missing question yields nil.
func (e *Engine) GetPost(ctx context.Context, postID int64) (Document, error) {
	q, err := e.store.QuestionByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, nil
	}
	tags, err := e.store.QuestionTags(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	raw, err := e.posts.ReadAt(ctx, q.Start, q.Length)
	if err != nil {
		return nil, err
	}
	attrs, err := archive.ParseRow(raw)
	if err != nil {
		return nil, err
	}

	answers := make(map[int64]Document, len(q.Answers))
	for _, a := range q.Answers {
		raw, err := e.posts.ReadAt(ctx, a.Start, a.Length)
		if err != nil {
			return nil, err
		}
		aattrs, perr := archive.ParseRow(raw)
		if perr != nil {
			e.logger.Debug("skipping unparsable answer row",
				zap.Int64("answer", a.ID), zap.Error(perr))
			continue
		}
		answers[a.ID] = answerDocument(aattrs)
	}

	doc := questionDocument(attrs)
	doc["tags"] = tagNames(tags)
	doc["answers"] = answers
	liftAcceptedAnswer(doc, q.AcceptedAnswerID)
	return doc, nil
}

// QueryPosts pages questions carrying all required tags and assembles their
// documents.  All row reads — questions and answers of the whole page — are
// issued in ascending start order to maximise decompressor locality.
func (e *Engine) QueryPosts(ctx context.Context, offset, limit int, tags []string) (map[int64]Document, error) {
	questions, err := e.store.Questions(ctx, offset, limit, tags)
	if err != nil {
		return nil, err
	}

	docs := make(map[int64]Document, len(questions))
	type span struct {
		start, length int64
	}
	spans := make([]span, 0, len(questions)*2)

	for _, q := range questions {
		qtags, err := e.store.QuestionTags(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		docs[q.ID] = Document{
			"tags":    tagNames(qtags),
			"answers": map[int64]Document{},
		}
		spans = append(spans, span{q.Start, q.Length})
		for _, a := range q.Answers {
			spans = append(spans, span{a.Start, a.Length})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for _, sp := range spans {
		raw, err := e.posts.ReadAt(ctx, sp.start, sp.length)
		if err != nil {
			return nil, err
		}
		attrs, perr := archive.ParseRow(raw)
		if perr != nil {
			e.logger.Debug("skipping unparsable row", zap.Int64("start", sp.start), zap.Error(perr))
			continue
		}
		id, ierr := strconv.ParseInt(attrs["Id"], 10, 64)
		if ierr != nil {
			continue
		}
		switch attrs["PostTypeId"] {
		case "1":
			doc, ok := docs[id]
			if !ok {
				continue
			}
			for k, v := range questionDocument(attrs) {
				doc[k] = v
			}
		case "2":
			parent, perr := strconv.ParseInt(attrs["ParentId"], 10, 64)
			if perr != nil {
				continue
			}
			doc, ok := docs[parent]
			if !ok {
				continue
			}
			doc["answers"].(map[int64]Document)[id] = answerDocument(attrs)
		}
	}

	for _, q := range questions {
		liftAcceptedAnswer(docs[q.ID], q.AcceptedAnswerID)
	}
	return docs, nil
}

func questionDocument(attrs archive.Attrs) Document {
	return Document{
		"id":                 attrs["Id"],
		"creation_date":      attrs["CreationDate"],
		"last_edit_date":     attrs["LastEditDate"],
		"last_activity_date": attrs["LastActivityDate"],
		"title":              attrs["Title"],
		"body":               attrs["Body"],
		"score":              attrs["Score"],
	}
}

func answerDocument(attrs archive.Attrs) Document {
	return Document{
		"creation_date":      attrs["CreationDate"],
		"score":              attrs["Score"],
		"last_activity_date": attrs["LastActivityDate"],
		"body":               attrs["Body"],
	}
}

func tagNames(tags []store.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}

// liftAcceptedAnswer moves the accepted answer out of the answers map.  When
// the referenced answer was never indexed the map is left intact and no
// accepted_answer key appears.
func liftAcceptedAnswer(doc Document, acceptedID *int64) {
	if doc == nil || acceptedID == nil {
		return
	}
	answers, ok := doc["answers"].(map[int64]Document)
	if !ok {
		return
	}
	if a, ok := answers[*acceptedID]; ok {
		doc["accepted_answer"] = a
		delete(answers, *acceptedID)
	}
}
