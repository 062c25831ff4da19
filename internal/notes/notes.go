package notes

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	operrors "op/internal/errors"
	"op/internal/logging"
	"op/internal/storage"
	"op/internal/workspace"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

const (
	dbDir     = "notes"
	keyPrefix = "note"

	DefaultListLimit = 20
	timeLayout       = "2006-01-02 15:04"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	}
	return "", operrors.ValidationError(
		fmt.Sprintf("invalid priority %q (use high, normal or low)", s), nil)
}

type Note struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	Tag       string    `json:"tag,omitempty"`
	Priority  Priority  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"`
}

// GetID zero-pads the id so key order matches creation order.
func (n *Note) GetID() string {
	return noteKey(n.ID)
}

func noteKey(id int) string {
	return fmt.Sprintf("%010d", id)
}

type Filter struct {
	Tag      string
	ShowDone bool
	Limit    int
}

type ListResult struct {
	Notes []Note
	Total int
}

// Manager stores notes in a badger database under the repo's state dir.
type Manager struct {
	db     *badger.DB
	store  *storage.BadgerStore
	owned  bool
	logger *zap.Logger
	now    func() time.Time
}

// Open opens the notes database of an initialized repo.
func Open(ws *workspace.Workspace, logger *zap.Logger) (*Manager, error) {
	if err := ws.RequireRepo(); err != nil {
		return nil, err
	}
	db, err := storage.Open(ws.StatePath(dbDir))
	if err != nil {
		return nil, err
	}
	m := NewManager(db, logger)
	m.owned = true
	return m, nil
}

// NewManager wraps an already open database. Close leaves it open.
func NewManager(db *badger.DB, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		store:  storage.NewBadgerStore(db, keyPrefix),
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

func (m *Manager) Close() error {
	if !m.owned {
		return nil
	}
	return m.db.Close()
}

func (m *Manager) Add(content, tag string, priority Priority) (*Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, operrors.ValidationError("note content cannot be empty", nil)
	}
	priority, err := ParsePriority(string(priority))
	if err != nil {
		return nil, err
	}

	seq, err := m.store.NextID()
	if err != nil {
		return nil, err
	}

	note := &Note{
		ID:        int(seq),
		Content:   content,
		Tag:       strings.TrimSpace(tag),
		Priority:  priority,
		Timestamp: m.now().UTC(),
	}
	if err := m.store.Create(note); err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}

	m.logger.Debug("note added", zap.Int("id", note.ID), zap.String("tag", note.Tag))
	return note, nil
}

func (m *Manager) all() ([]Note, error) {
	var notes []Note
	if err := m.store.List(&notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func newestFirst(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].Timestamp.Equal(notes[j].Timestamp) {
			return notes[i].Timestamp.After(notes[j].Timestamp)
		}
		return notes[i].ID > notes[j].ID
	})
}

// List returns matching notes newest first. Total counts every match before
// the limit is applied; a non-positive limit returns all of them.
func (m *Manager) List(f Filter) (*ListResult, error) {
	notes, err := m.all()
	if err != nil {
		return nil, err
	}

	matched := notes[:0]
	for _, n := range notes {
		if f.Tag != "" && n.Tag != f.Tag {
			continue
		}
		if n.Done && !f.ShowDone {
			continue
		}
		matched = append(matched, n)
	}
	newestFirst(matched)

	result := &ListResult{Notes: matched, Total: len(matched)}
	if f.Limit > 0 && len(matched) > f.Limit {
		result.Notes = matched[:f.Limit]
	}
	return result, nil
}

// Tags returns the distinct non-empty tags, sorted.
func (m *Manager) Tags() ([]string, error) {
	notes, err := m.all()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tags []string
	for _, n := range notes {
		if n.Tag != "" && !seen[n.Tag] {
			seen[n.Tag] = true
			tags = append(tags, n.Tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Search matches query case-insensitively against content and tag.
func (m *Manager) Search(query string) ([]Note, error) {
	notes, err := m.all()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matches []Note
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.Content), q) ||
			(n.Tag != "" && strings.Contains(strings.ToLower(n.Tag), q)) {
			matches = append(matches, n)
		}
	}
	return matches, nil
}

func (m *Manager) Get(id int) (*Note, error) {
	var n Note
	if err := m.store.Get(noteKey(id), &n); err != nil {
		if operrors.TypeOf(err) == operrors.ErrorTypeNotFound {
			return nil, operrors.NotFound(fmt.Sprintf("note #%d not found", id))
		}
		return nil, err
	}
	return &n, nil
}

// Delete removes a note and returns it.
func (m *Manager) Delete(id int) (*Note, error) {
	n, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Delete(noteKey(id)); err != nil {
		return nil, err
	}
	return n, nil
}

func (m *Manager) SetDone(id int, done bool) (*Note, error) {
	n, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	n.Done = done
	if err := m.store.Update(n); err != nil {
		return nil, err
	}
	return n, nil
}

// Clear deletes every note. Ids keep counting from where they left off.
func (m *Manager) Clear() (int, error) {
	n, err := m.store.Clear()
	if err != nil {
		return 0, err
	}
	m.logger.Debug("notes cleared", zap.Int("count", n))
	return n, nil
}

// ExportMarkdown writes every note grouped by tag, oldest first within a
// group. Untagged notes come first under "General Notes". It returns the
// number of notes written.
func (m *Manager) ExportMarkdown(w io.Writer) (int, error) {
	notes, err := m.all()
	if err != nil {
		return 0, err
	}
	if len(notes) == 0 {
		return 0, operrors.NotFound("no notes to export")
	}

	groups := make(map[string][]Note)
	for _, n := range notes {
		groups[n.Tag] = append(groups[n.Tag], n)
	}
	tags := make([]string, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var b strings.Builder
	b.WriteString("# Operation Notes\n")
	for _, tag := range tags {
		heading := "General Notes"
		if tag != "" {
			heading = titleCase(tag)
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)

		group := groups[tag]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		for _, n := range group {
			b.WriteString(markdownItem(n))
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, fmt.Errorf("writing markdown: %w", err)
	}
	return len(notes), nil
}

func markdownItem(n Note) string {
	marker := ""
	if n.Priority == PriorityHigh {
		marker = "🔴 "
	}
	content := n.Content
	if n.Done {
		content = "~~" + content + "~~"
	}
	return fmt.Sprintf("- %s%s *(%s)*\n", marker, content, n.Timestamp.Local().Format(timeLayout))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
