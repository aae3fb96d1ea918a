// Package importer drives a spreadsheet import from file selection to a
// committed batch of records.
package importer

import (
	"context"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/dedupe"
	"github.com/kanveo/kanveo-cli/internal/matcher"
	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/registry"
)

// DefaultAcceptedExtensions lists the file types a session accepts when
// Options leaves them empty.
var DefaultAcceptedExtensions = []string{".csv", ".xlsx", ".txt"}

const (
	defaultKeyField = "email"
	sampleRows      = 3
)

// Parser turns an uploaded file into headers and rows.
type Parser interface {
	Parse(ctx context.Context, name string, r io.Reader) (*model.Sheet, error)
}

// ExistingLookup reports which key values the owner already has on file.
type ExistingLookup interface {
	ExistingKeys(ctx context.Context, ownerID, field string, values []string) ([]string, error)
}

// Options configures a new Session.
type Options struct {
	ID                 string
	OwnerID            string
	Registry           *registry.Registry
	AcceptedExtensions []string
	KeyField           string
	ChunkSize          int
	MaxRows            int // 0 = unlimited
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID          string                   `json:"id"`
	OwnerID     string                   `json:"owner_id"`
	State       State                    `json:"state"`
	FileName    string                   `json:"file_name,omitempty"`
	Headers     []string                 `json:"headers"`
	RowCount    int                      `json:"row_count"`
	Sample      []model.RawRow           `json:"sample"`
	Suggestions []model.ColumnSuggestion `json:"suggestions"`
	Mapping     model.ColumnMapping      `json:"mapping"`
	KeyField    string                   `json:"key_field"`
	Duplicates  []model.DuplicateWarning `json:"duplicates"`
	Existing    []string                 `json:"existing"`
	Progress    model.Progress           `json:"progress"`
	Error       string                   `json:"error,omitempty"`
	Result      *CommitResult            `json:"result,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Session is one in-flight import. It is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	id        string
	ownerID   string
	reg       *registry.Registry
	accepted  []string
	keyField  string
	chunkSize int
	maxRows   int

	state       State
	fileName    string
	headers     []string
	rows        []model.RawRow
	suggestions []model.ColumnSuggestion
	mapping     model.ColumnMapping
	duplicates  []model.DuplicateWarning
	existing    []string
	progress    model.Progress
	err         error
	result      *CommitResult
	createdAt   time.Time
	updatedAt   time.Time
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	accepted := make([]string, 0, len(opts.AcceptedExtensions))
	for _, ext := range opts.AcceptedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		accepted = append(accepted, ext)
	}
	if len(accepted) == 0 {
		accepted = slices.Clone(DefaultAcceptedExtensions)
	}
	if opts.KeyField == "" {
		opts.KeyField = defaultKeyField
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	now := time.Now().UTC()
	return &Session{
		id:        opts.ID,
		ownerID:   opts.OwnerID,
		reg:       opts.Registry,
		accepted:  accepted,
		keyField:  opts.KeyField,
		chunkSize: opts.ChunkSize,
		maxRows:   opts.MaxRows,
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OwnerID returns the owning user id.
func (s *Session) OwnerID() string { return s.ownerID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UpdatedAt returns the time of the last state change or edit.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Err returns the error that moved the session to StateFailed, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SelectFile records the chosen file. An extension outside the accepted set
// fails the session.
func (s *Session) SelectFile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return s.transitionErr("select file")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(s.accepted, ext) {
		return s.fail(eris.Wrapf(ErrInvalidFileType, "%q (accepted: %s)", name, strings.Join(s.accepted, ", ")))
	}
	s.fileName = name
	s.setState(StateFileSelected)
	return nil
}

// Parse reads the selected file, proposes a column mapping and computes
// duplicate warnings for the key field.
func (s *Session) Parse(ctx context.Context, p Parser, r io.Reader) error {
	s.mu.RLock()
	state, name := s.state, s.fileName
	s.mu.RUnlock()
	if state != StateFileSelected {
		return s.lockedTransitionErr("parse")
	}

	sheet, perr := p.Parse(ctx, name, r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFileSelected {
		return s.transitionErr("parse")
	}

	switch {
	case perr != nil:
		return s.fail(eris.Wrapf(ErrParseFailure, "%s: %v", name, perr))
	case sheet == nil || len(sheet.Headers) == 0:
		return s.fail(eris.Wrapf(ErrParseFailure, "%s: no header row", name))
	case s.maxRows > 0 && len(sheet.Rows) > s.maxRows:
		return s.fail(eris.Wrapf(ErrParseFailure, "%s: %d rows exceeds limit of %d", name, len(sheet.Rows), s.maxRows))
	}

	s.headers = sheet.Headers
	s.rows = sheet.Rows
	s.suggestions, s.mapping = matcher.Propose(s.headers, s.reg.Fields())
	s.duplicates = dedupe.DetectByField(s.rows, s.headers, s.mapping, s.keyField)
	s.setState(StateParsed)

	zap.L().Info("importer: mapping proposed",
		zap.String("session_id", s.id),
		zap.String("file", name),
		zap.Int("columns", len(s.headers)),
		zap.Int("rows", len(s.rows)),
		zap.Int("mapped", s.mapping.MappedCount()),
		zap.Int("duplicates", len(s.duplicates)),
	)
	return nil
}

// SetMapping maps header to field, or to model.IgnoreField. A field may be
// the target of at most one column.
func (s *Session) SetMapping(header, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateParsed && s.state != StateReviewing {
		return s.transitionErr("set mapping")
	}
	if !slices.Contains(s.headers, header) {
		return eris.Wrapf(ErrUnknownHeader, "%q", header)
	}
	field = strings.TrimSpace(field)
	if field == "" {
		field = model.IgnoreField
	}
	if field != model.IgnoreField {
		if !s.reg.Has(field) {
			return eris.Wrapf(ErrUnknownField, "%q", field)
		}
		if other, ok := s.mapping.HeaderFor(field, s.headers); ok && other != header {
			return eris.Wrapf(ErrDuplicateTarget, "%q already mapped from %q", field, other)
		}
	}

	before, _ := s.mapping.HeaderFor(s.keyField, s.headers)
	s.mapping[header] = field
	after, _ := s.mapping.HeaderFor(s.keyField, s.headers)
	if before != after {
		s.refreshDuplicates()
	}
	s.setState(StateReviewing)
	return nil
}

// SetKeyField chooses the field used for duplicate detection.
func (s *Session) SetKeyField(field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() || s.state == StateCommitting {
		return s.transitionErr("set key field")
	}
	if !s.reg.Has(field) {
		return eris.Wrapf(ErrUnknownField, "%q", field)
	}
	s.keyField = field
	if s.state == StateParsed || s.state == StateReviewing {
		s.refreshDuplicates()
		s.setState(StateReviewing)
	} else {
		s.updatedAt = time.Now().UTC()
	}
	return nil
}

// Commit persists the mapped rows through st. progress, when set, is called
// after each committed chunk. A session with no mapped column moves to
// Reviewing without touching st.
func (s *Session) Commit(ctx context.Context, st RecordStore, progress func(model.Progress)) (*CommitResult, error) {
	s.mu.Lock()
	if s.state != StateParsed && s.state != StateReviewing {
		err := s.transitionErr("commit")
		s.mu.Unlock()
		return nil, err
	}
	if s.mapping.MappedCount() == 0 {
		// A rejected confirm still counts as a review.
		s.setState(StateReviewing)
		s.mu.Unlock()
		return nil, ErrEmptyMapping
	}
	req := CommitRequest{
		OwnerID:   s.ownerID,
		FileName:  s.fileName,
		Headers:   s.headers,
		Rows:      s.rows,
		Mapping:   s.mapping.Clone(),
		Registry:  s.reg,
		ChunkSize: s.chunkSize,
	}
	s.setState(StateCommitting)
	s.mu.Unlock()

	req.Progress = func(p model.Progress) {
		s.mu.Lock()
		s.progress = p
		s.updatedAt = time.Now().UTC()
		s.mu.Unlock()
		if progress != nil {
			progress(p)
		}
	}

	res, err := Run(ctx, st, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	if err != nil {
		s.err = err
		s.setState(StateFailed)
		return nil, err
	}
	s.result = res
	s.progress = model.Progress{Current: res.Committed, Total: res.Total}
	s.setState(StateCommitted)
	return res, nil
}

// Cancel abandons the session. It is not possible once committing started.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.cancellable() {
		return s.transitionErr("cancel")
	}
	s.clear()
	s.setState(StateCancelled)
	return nil
}

// CheckExisting asks lookup which key values of this file the owner already
// has. It never fails the session: lookup errors are logged and nil returned.
func (s *Session) CheckExisting(ctx context.Context, lookup ExistingLookup) []string {
	s.mu.RLock()
	if s.state != StateParsed && s.state != StateReviewing {
		s.mu.RUnlock()
		return nil
	}
	field := s.keyField
	var values []string
	if header, ok := s.mapping.HeaderFor(field, s.headers); ok {
		values = make([]string, 0, len(s.rows))
		for _, row := range s.rows {
			if v := row[header].String(); strings.TrimSpace(v) != "" {
				values = append(values, v)
			}
		}
	}
	s.mu.RUnlock()

	if len(values) == 0 {
		return nil
	}

	keys, err := lookup.ExistingKeys(ctx, s.ownerID, field, values)
	if err != nil {
		zap.L().Warn("importer: existing record check failed",
			zap.String("session_id", s.id),
			zap.String("key_field", field),
			zap.Error(err),
		)
		return nil
	}

	s.mu.Lock()
	if s.keyField == field {
		s.existing = keys
	}
	s.mu.Unlock()
	return keys
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:          s.id,
		OwnerID:     s.ownerID,
		State:       s.state,
		FileName:    s.fileName,
		Headers:     slices.Clone(s.headers),
		RowCount:    len(s.rows),
		Suggestions: slices.Clone(s.suggestions),
		Mapping:     s.mapping.Clone(),
		KeyField:    s.keyField,
		Duplicates:  slices.Clone(s.duplicates),
		Existing:    slices.Clone(s.existing),
		Progress:    s.progress,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if snap.Headers == nil {
		snap.Headers = []string{}
	}
	if snap.Suggestions == nil {
		snap.Suggestions = []model.ColumnSuggestion{}
	}
	if snap.Duplicates == nil {
		snap.Duplicates = []model.DuplicateWarning{}
	}
	if snap.Existing == nil {
		snap.Existing = []string{}
	}
	n := min(sampleRows, len(s.rows))
	snap.Sample = make([]model.RawRow, n)
	for i := range n {
		row := make(model.RawRow, len(s.rows[i]))
		for k, v := range s.rows[i] {
			row[k] = v
		}
		snap.Sample[i] = row
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

func (s *Session) refreshDuplicates() {
	s.duplicates = dedupe.DetectByField(s.rows, s.headers, s.mapping, s.keyField)
	s.existing = nil
}

// fail moves to StateFailed and discards parsed data. Callers hold mu.
func (s *Session) fail(err error) error {
	s.clear()
	s.err = err
	s.setState(StateFailed)
	zap.L().Warn("importer: session failed", zap.String("session_id", s.id), zap.Error(err))
	return err
}

func (s *Session) clear() {
	s.headers = nil
	s.rows = nil
	s.suggestions = nil
	s.mapping = nil
	s.duplicates = nil
	s.existing = nil
}

func (s *Session) setState(st State) {
	s.state = st
	s.updatedAt = time.Now().UTC()
}

func (s *Session) transitionErr(action string) error {
	return eris.Wrapf(ErrInvalidTransition, "%s from %s", action, s.state)
}

func (s *Session) lockedTransitionErr(action string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitionErr(action)
}
