package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/indexer"
	"github.com/sedump/sedump/store"
)

const (
	tagsXML = "<tags>\r\n" +
		"<row Id=\"1\" TagName=\"python\" Count=\"10\"/>\r\n" +
		"<row Id=\"2\" TagName=\"rust\" Count=\"5\"/>\r\n" +
		"</tags>\r\n"

	postsXML = "<posts>\r\n" +
		"<row Id=\"10\" PostTypeId=\"1\" Score=\"7\" AcceptedAnswerId=\"11\" " +
		"CreationDate=\"2023-01-01T00:00:00.000\" Title=\"How?\" Body=\"Like so.\" " +
		"Tags=\"&lt;python&gt;&lt;rust&gt;\"/>\r\n" +
		"<row Id=\"11\" PostTypeId=\"2\" Score=\"3\" ParentId=\"10\" Body=\"An answer.\"/>\r\n" +
		"<row Id=\"14\" PostTypeId=\"2\" Score=\"1\" ParentId=\"10\" Body=\"Another.\"/>\r\n" +
		"<row Id=\"20\" PostTypeId=\"1\" Score=\"2\" AcceptedAnswerId=\"999\" " +
		"Title=\"Why?\" Body=\"Because.\" Tags=\"&lt;python&gt;\"/>\r\n" +
		"<row Id=\"21\" PostTypeId=\"2\" Score=\"0\" ParentId=\"20\" Body=\"Dunno.\"/>\r\n" +
		"</posts>\r\n"
)

// fixture indexes the crafted dump and returns an engine over it.
func fixture(t *testing.T) *Engine {
	t.Helper()

	posts, err := archive.NewMemory("site.com.7z/Posts.xml", []byte(postsXML))
	require.NoError(t, err)
	t.Cleanup(func() { _ = posts.Close() })
	tags, err := archive.NewMemory("site.com.7z/Tags.xml", []byte(tagsXML))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tags.Close() })

	st, err := store.Open(filepath.Join(t.TempDir(), "site.com.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ix, err := indexer.New(posts, tags, st)
	require.NoError(t, err)
	require.NoError(t, ix.Run(context.Background()))

	e, err := New(posts, st)
	require.NoError(t, err)
	return e
}

func TestTagsList(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	tags, err := e.TagsList(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, map[string]TagInfo{
		"python": {CountUsage: 10},
		"rust":   {CountUsage: 5},
	}, tags)

	tags, err = e.TagsList(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]TagInfo{"python": {CountUsage: 10}}, tags)
}

func TestGetPost(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	doc, err := e.GetPost(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, "10", doc["id"])
	assert.Equal(t, "7", doc["score"])
	assert.Equal(t, "How?", doc["title"])
	assert.Equal(t, "Like so.", doc["body"])
	assert.Equal(t, "2023-01-01T00:00:00.000", doc["creation_date"])
	assert.ElementsMatch(t, []string{"python", "rust"}, doc["tags"])

	// The accepted answer is lifted out of the answers map.
	accepted, ok := doc["accepted_answer"].(Document)
	require.True(t, ok)
	assert.Equal(t, "3", accepted["score"])
	assert.Equal(t, "An answer.", accepted["body"])

	answers := doc["answers"].(map[int64]Document)
	require.Len(t, answers, 1)
	assert.Equal(t, "Another.", answers[14]["body"])
}

func TestGetPostAcceptedAnswerMissing(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	doc, err := e.GetPost(context.Background(), 20)
	require.NoError(t, err)
	require.NotNil(t, doc)

	_, ok := doc["accepted_answer"]
	assert.False(t, ok, "a dangling AcceptedAnswerId yields no accepted_answer key")
	answers := doc["answers"].(map[int64]Document)
	require.Len(t, answers, 1, "the answers map stays complete")
	assert.Equal(t, "Dunno.", answers[21]["body"])
}

func TestGetPostNotFound(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	doc, err := e.GetPost(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestQueryPosts(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	ctx := context.Background()

	docs, err := e.QueryPosts(ctx, 0, 10, []string{"python"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = e.QueryPosts(ctx, 0, 10, []string{"python", "rust"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[10]
	require.NotNil(t, doc)
	assert.Equal(t, "How?", doc["title"])
	assert.ElementsMatch(t, []string{"python", "rust"}, doc["tags"])
	_, ok := doc["accepted_answer"].(Document)
	assert.True(t, ok)
	assert.Len(t, doc["answers"].(map[int64]Document), 1)

	docs, err = e.QueryPosts(ctx, 0, 10, []string{"python", "c++"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestQueryPostsPaging(t *testing.T) {
	t.Parallel()

	e := fixture(t)
	ctx := context.Background()

	docs, err := e.QueryPosts(ctx, 0, 1, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = e.QueryPosts(ctx, 1, 10, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = e.QueryPosts(ctx, 2, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
