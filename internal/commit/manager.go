package commit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"op/internal/archive"
	"op/internal/diff"
	operrors "op/internal/errors"
	"op/internal/logging"
	"op/internal/workspace"
)

const (
	// IDLength is the number of hex characters in a commit id.
	IDLength = 7

	DefaultAuthor = "op-user"

	lockFile      = "lock"
	lockRetry     = 50 * time.Millisecond
	maxIDAttempts = 16
)

// Options configures a Manager.
type Options struct {
	Archive       archive.Options
	DefaultAuthor string
	LockTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		Archive:       archive.DefaultOptions(),
		DefaultAuthor: DefaultAuthor,
		LockTimeout:   10 * time.Second,
	}
}

// Manager implements commit, log, diff, show and restore for one workspace.
type Manager struct {
	ws     *workspace.Workspace
	store  *Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(ws *workspace.Workspace, opts Options, logger *zap.Logger) (*Manager, error) {
	logger = logging.OrNop(logger)
	store, err := NewStore(ws.StatePath(), logger)
	if err != nil {
		return nil, err
	}
	if opts.DefaultAuthor == "" {
		opts.DefaultAuthor = DefaultAuthor
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions().LockTimeout
	}
	return &Manager{
		ws:     ws,
		store:  store,
		opts:   opts,
		logger: logger.With(zap.String("root", ws.Root)),
		now:    time.Now,
	}, nil
}

// Store exposes the underlying commit store for read-only callers.
func (m *Manager) Store() *Store {
	return m.store
}

// State is the HEAD pointer as read at the start of an operation.
type State struct {
	Head string
}

func (m *Manager) readState() (State, error) {
	head, err := m.store.Head()
	if err != nil {
		return State{}, err
	}
	return State{Head: head}, nil
}

// lock takes the repo lock guarding the HEAD read/write section.
func (m *Manager) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(m.ws.StatePath(), 0755); err != nil {
		return nil, operrors.FromIO("creating state directory", m.ws.StatePath(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()

	fl := flock.New(m.ws.StatePath(lockFile))
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("acquiring repo lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("repository is locked by another op process")
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			m.logger.Warn("releasing repo lock", zap.Error(err))
		}
	}, nil
}

// newID derives a short id from the commit time and root, nudging the time
// forward on the rare collision with a stored commit.
func (m *Manager) newID() (string, time.Time, error) {
	ts := m.now()
	for i := 0; i < maxIDAttempts; i++ {
		stamp := ts.Add(time.Duration(i) * time.Microsecond)
		id := workspace.Digest([]byte(stamp.Format(time.RFC3339Nano) + "-" + m.ws.Root))[:IDLength]
		if !m.store.Exists(id) {
			return id, stamp, nil
		}
		m.logger.Debug("commit id collision", zap.String("id", id))
	}
	return "", time.Time{}, fmt.Errorf("could not allocate a unique commit id")
}

// Commit snapshots every tracked file into a new commit and advances HEAD.
func (m *Manager) Commit(ctx context.Context, message, author string) (*Commit, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, operrors.ValidationError("commit message is required", nil)
	}
	if author = strings.TrimSpace(author); author == "" {
		author = m.opts.DefaultAuthor
	}

	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	files, _, err := m.ws.Tracked(true)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, operrors.NothingToCommit()
	}

	snap, err := workspace.TakeSnapshot(m.ws.Root, files)
	if err != nil {
		return nil, err
	}

	state, err := m.readState()
	if err != nil {
		return nil, err
	}

	id, ts, err := m.newID()
	if err != nil {
		return nil, err
	}

	rel := make([]string, len(files))
	for i, f := range files {
		if rel[i], err = workspace.RelPath(m.ws.Root, f); err != nil {
			return nil, fmt.Errorf("relative path for %s: %w", f, err)
		}
	}

	c := &Commit{
		ID:        id,
		Message:   message,
		Timestamp: ts,
		Author:    author,
		Parent:    state.Head,
		Files:     rel,
		FileCount: len(rel),
		Snapshot:  snap,
	}

	if err := m.store.Create(c, m.ws.Root, files, m.opts.Archive); err != nil {
		return nil, fmt.Errorf("creating commit: %w", err)
	}
	if err := m.store.SetHead(c.ID); err != nil {
		return nil, err
	}

	m.logger.Info("created commit",
		zap.String("id", c.ID),
		zap.String("parent", c.Parent),
		zap.Int("files", c.FileCount))
	return c, nil
}

// Summary is one log entry.
type Summary struct {
	*Commit
	IsHead bool
}

// LogResult holds the newest commits and the size of the whole history.
type LogResult struct {
	Entries []Summary
	Total   int
}

// Log lists up to limit commits, newest first. A limit of zero or less
// lists everything.
func (m *Manager) Log(limit int) (*LogResult, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	state, err := m.readState()
	if err != nil {
		return nil, err
	}
	commits, err := m.store.List()
	if err != nil {
		return nil, err
	}

	result := &LogResult{Total: len(commits)}
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	for _, c := range commits {
		result.Entries = append(result.Entries, Summary{Commit: c, IsHead: c.ID == state.Head})
	}
	return result, nil
}

// Ancestry walks parent links from the given commit (HEAD when empty) back
// to the root commit.
func (m *Manager) Ancestry(prefix string) ([]*Commit, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}

	var start *Commit
	if prefix == "" {
		state, err := m.readState()
		if err != nil {
			return nil, err
		}
		if state.Head == "" {
			return nil, nil
		}
		c, err := m.store.Read(state.Head)
		if err != nil {
			return nil, err
		}
		start = c
	} else {
		c, err := m.store.Resolve(prefix)
		if err != nil {
			return nil, err
		}
		start = c
	}

	var chain []*Commit
	seen := make(map[string]bool)
	for c := start; c != nil; {
		if seen[c.ID] {
			return chain, fmt.Errorf("commit history loops at %s", c.ID)
		}
		seen[c.ID] = true
		chain = append(chain, c)

		if c.Parent == "" {
			break
		}
		parent, err := m.store.Read(c.Parent)
		if err != nil {
			return chain, fmt.Errorf("reading parent of %s: %w", c.ID, err)
		}
		c = parent
	}
	return chain, nil
}

// DiffResult compares the working tree with a commit.
type DiffResult struct {
	workspace.Changes
	// Target is nil when there is no HEAD to compare against.
	Target *Commit
}

// NoHead reports the "nothing to compare" state.
func (r *DiffResult) NoHead() bool {
	return r.Target == nil
}

// target resolves prefix, defaulting to HEAD. It returns nil, nil when no
// prefix is given and HEAD is absent.
func (m *Manager) target(prefix string) (*Commit, error) {
	if prefix != "" {
		return m.store.Resolve(prefix)
	}
	state, err := m.readState()
	if err != nil {
		return nil, err
	}
	if state.Head == "" {
		return nil, nil
	}
	return m.store.Read(state.Head)
}

// Diff compares the current tracked files with a commit, HEAD by default.
func (m *Manager) Diff(prefix string) (*DiffResult, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	target, err := m.target(prefix)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return &DiffResult{}, nil
	}

	current, err := m.ws.Snapshot()
	if err != nil {
		return nil, err
	}
	return &DiffResult{
		Changes: workspace.Compare(target.Snapshot, current),
		Target:  target,
	}, nil
}

// FilePatch produces a line diff of one file between a commit and the
// working tree. A side where the file is absent is treated as empty.
func (m *Manager) FilePatch(prefix, path string) (*diff.DiffResult, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	target, err := m.target(prefix)
	if err != nil {
		return nil, err
	}

	var old []byte
	if target != nil {
		r, err := m.store.OpenArchive(target.ID)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		old, err = r.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	current, err := os.ReadFile(filepath.Join(m.ws.Root, filepath.FromSlash(path)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, operrors.FromIO("reading file", path, err)
	}

	return diff.NewEngine(diff.DefaultContextLines).Diff(old, current)
}

// Details is the full record of one commit.
type Details struct {
	*Commit
	IsHead bool
}

func (m *Manager) Show(prefix string) (*Details, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	c, err := m.store.Resolve(prefix)
	if err != nil {
		return nil, err
	}
	state, err := m.readState()
	if err != nil {
		return nil, err
	}
	return &Details{Commit: c, IsHead: c.ID == state.Head}, nil
}

// ConfirmFunc gates a restore. Returning false cancels it without changes.
type ConfirmFunc func(c *Commit) bool

// RestoreResult describes a restore. Applied is false when the
// confirmation was declined.
type RestoreResult struct {
	Commit   *Commit
	Applied  bool
	Restored []string
	Skipped  []string
}

// Restore writes a commit's files back into the working tree and moves HEAD
// to it. Archived paths that are ignored right now are left untouched, so
// the result can differ from the commit when ignore rules have changed.
// A nil confirm proceeds without asking.
func (m *Manager) Restore(ctx context.Context, prefix string, confirm ConfirmFunc) (*RestoreResult, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := m.store.Resolve(prefix)
	if err != nil {
		return nil, err
	}

	r, err := m.store.OpenArchive(c.ID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result := &RestoreResult{Commit: c}
	if confirm != nil && !confirm(c) {
		return result, nil
	}

	ignored, err := m.ws.Ignored(true)
	if err != nil {
		return nil, err
	}

	skip := func(name string) bool {
		abs := filepath.Join(m.ws.Root, filepath.FromSlash(name))
		if ignored.Contains(abs) || name == workspace.StateDir || strings.HasPrefix(name, workspace.StateDir+"/") {
			result.Skipped = append(result.Skipped, name)
			return true
		}
		return false
	}

	restored, err := r.Extract(m.ws.Root, skip)
	result.Restored = restored
	if err != nil {
		return result, fmt.Errorf("restoring commit %s: %w", c.ID, err)
	}

	if err := m.store.SetHead(c.ID); err != nil {
		return result, err
	}
	result.Applied = true

	m.logger.Info("restored commit",
		zap.String("id", c.ID),
		zap.Int("restored", len(result.Restored)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// VerifyResult lists archive entries that no longer match the snapshot
// recorded at commit time.
type VerifyResult struct {
	Commit  *Commit
	Missing []string
	Corrupt []string
	Extra   []string
}

func (r *VerifyResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Corrupt) == 0 && len(r.Extra) == 0
}

// Verify re-hashes every archived file against the stored snapshot.
func (m *Manager) Verify(prefix string) (*VerifyResult, error) {
	if err := m.ws.RequireRepo(); err != nil {
		return nil, err
	}
	c, err := m.store.Resolve(prefix)
	if err != nil {
		return nil, err
	}
	r, err := m.store.OpenArchive(c.ID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result := &VerifyResult{Commit: c}
	inArchive := make(map[string]bool)
	for _, name := range r.Names() {
		inArchive[name] = true
		want, ok := c.Snapshot[name]
		if !ok {
			result.Extra = append(result.Extra, name)
			continue
		}
		data, err := r.ReadFile(name)
		if err != nil {
			m.logger.Warn("unreadable archive entry", zap.String("name", name), zap.Error(err))
			result.Corrupt = append(result.Corrupt, name)
			continue
		}
		if workspace.Digest(data) != want {
			result.Corrupt = append(result.Corrupt, name)
		}
	}
	for _, name := range c.Snapshot.Paths() {
		if !inArchive[name] {
			result.Missing = append(result.Missing, name)
		}
	}
	return result, nil
}
