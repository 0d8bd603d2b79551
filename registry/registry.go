// Package registry owns the process-wide mapping from archive basename to
// its constructed reader/indexer/engine trio.  Construction is memoised and
// serialised per name, so concurrent first requests build one decoder, not
// two.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/indexer"
	"github.com/sedump/sedump/query"
	"github.com/sedump/sedump/store"
)

// ErrUnknownArchive is returned for a name that is neither loaded nor
// present under the archive folder.
var ErrUnknownArchive = errors.New("registry: unknown archive")

// Dump bundles everything one archive needs to be indexed and queried.
type Dump struct {
	Name  string
	Posts *archive.Reader
	Tags  *archive.Reader

	Store   *store.Store
	Indexer *indexer.Indexer
	Engine  *query.Engine
}

func (d *Dump) Close() (err error) {
	err = multierr.Append(err, d.Posts.Close())
	err = multierr.Append(err, d.Tags.Close())
	err = multierr.Append(err, d.Store.Close())
	return
}

type Registry struct {
	archiveFolder  string
	databaseFolder string

	pool   *archive.Pool
	logger *zap.Logger
	ixOpts []indexer.Option

	mu    sync.RWMutex
	dumps map[string]*Dump
	group singleflight.Group
}

type Option func(*Registry) error

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) error { r.logger = l; return nil }
}

// WithDatabaseFolder relocates the per-archive databases; by default they
// live next to the archives.
func WithDatabaseFolder(path string) Option {
	return func(r *Registry) error { r.databaseFolder = path; return nil }
}

// WithIndexerOptions is applied to every indexer the registry constructs.
func WithIndexerOptions(opts ...indexer.Option) Option {
	return func(r *Registry) error { r.ixOpts = opts; return nil }
}

func New(archiveFolder string, pool *archive.Pool, opts ...Option) (*Registry, error) {
	r := &Registry{
		archiveFolder: archiveFolder,
		pool:          pool,
		logger:        zap.NewNop(),
		dumps:         make(map[string]*Dump),
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// List returns the basenames of every discoverable archive: regular site
// containers plus the solid posts archives of the largest sites.
func (r *Registry) List() ([]string, error) {
	var names []string
	for _, pattern := range []string{"*.com.7z", "*-Posts.7z"} {
		matches, err := filepath.Glob(filepath.Join(r.archiveFolder, pattern))
		if err != nil {
			return nil, fmt.Errorf("registry: failed to scan %q: %w", r.archiveFolder, err)
		}
		for _, m := range matches {
			names = append(names, filepath.Base(m))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the dump for name, constructing and memoising it on first use.
func (r *Registry) Get(ctx context.Context, name string) (*Dump, error) {
	r.mu.RLock()
	d, ok := r.dumps[name]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		d, ok := r.dumps[name]
		r.mu.RUnlock()
		if ok {
			return d, nil
		}

		d, err := r.build(name)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.dumps[name] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dump), nil
}

func (r *Registry) build(name string) (*Dump, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}
	known := false
	for _, n := range names {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArchive, name)
	}

	path := filepath.Join(r.archiveFolder, name)
	readerOpts := []archive.Option{
		archive.WithLogger(r.logger),
		archive.WithPool(r.pool),
	}

	var posts, tags *archive.Reader
	if archive.IsSolidBzip2(path) {
		tagsPath := filepath.Join(r.archiveFolder, strings.Replace(name, "-Posts", "-Tags", 1))
		if _, serr := os.Stat(tagsPath); serr != nil {
			return nil, fmt.Errorf("%w: companion %q: %s", archive.ErrMissingMember, tagsPath, serr)
		}
		if posts, err = archive.OpenFile(path, archive.PostsMember, readerOpts...); err != nil {
			return nil, err
		}
		if tags, err = archive.OpenFile(tagsPath, archive.TagsMember, readerOpts...); err != nil {
			err = multierr.Append(err, posts.Close())
			return nil, err
		}
	} else {
		members, merr := archive.MemberNames(path)
		if merr != nil {
			return nil, merr
		}
		have := make(map[string]bool, len(members))
		for _, m := range members {
			have[m] = true
		}
		if !have[archive.PostsMember] || !have[archive.TagsMember] {
			return nil, fmt.Errorf("%w: %q must carry %s and %s",
				archive.ErrMissingMember, name, archive.PostsMember, archive.TagsMember)
		}
		if posts, err = archive.OpenFile(path, archive.PostsMember, readerOpts...); err != nil {
			return nil, err
		}
		if tags, err = archive.OpenFile(path, archive.TagsMember, readerOpts...); err != nil {
			err = multierr.Append(err, posts.Close())
			return nil, err
		}
	}

	st, err := store.Open(r.databasePath(name), store.WithLogger(r.logger))
	if err != nil {
		err = multierr.Append(err, posts.Close())
		err = multierr.Append(err, tags.Close())
		return nil, err
	}

	ixOpts := append([]indexer.Option{indexer.WithLogger(r.logger)}, r.ixOpts...)
	ix, err := indexer.New(posts, tags, st, ixOpts...)
	if err != nil {
		return nil, err
	}
	en, err := query.New(posts, st, query.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}

	return &Dump{
		Name:    name,
		Posts:   posts,
		Tags:    tags,
		Store:   st,
		Indexer: ix,
		Engine:  en,
	}, nil
}

func (r *Registry) databasePath(name string) string {
	dir := r.databaseFolder
	if dir == "" {
		dir = r.archiveFolder
	}
	return filepath.Join(dir, strings.TrimSuffix(name, ".7z")+".db")
}

// Close tears down every constructed dump.
func (r *Registry) Close() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dumps {
		err = multierr.Append(err, d.Close())
	}
	r.dumps = make(map[string]*Dump)
	return
}
