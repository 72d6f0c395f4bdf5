package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"igmonitor/internal/domain"
	logx "igmonitor/pkg/logx"
)

// fileStore keeps the record set in memory and persists it as:
//   - <prefix>.snapshot.json (full set, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only, fsync'd per write)
//
// The journal is folded into the snapshot every compactEvery writes and on Compact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      journalFile
	// size is the journal length after the last complete line.
	size int64
	ix   *index

	writes       int
	compactEvery int
}

// journalFile is the part of *os.File the journal uses.
type journalFile interface {
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

type journalOp struct {
	Op  string                   `json:"op"` // put | del
	Seq uint64                   `json:"seq,omitempty"`
	ID  string                   `json:"id,omitempty"`
	Rec *domain.MonitoredAccount `json:"rec,omitempty"`
}

type snapshot struct {
	Records []indexed `json:"records"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	ix := newIndex()
	if err := loadSnapshot(snapPath, ix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot %s: %w", snapPath, err)
	}
	skipped, err := replayJournal(journalPath, ix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal %s: %w", journalPath, err)
	}
	if skipped > 0 {
		log.Warn("journal lines skipped", logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	size, err := trimTornTail(journalPath, jf)
	if err != nil {
		_ = jf.Close()
		return nil, fmt.Errorf("repair journal %s: %w", journalPath, err)
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		size:         size,
		ix:           ix,
		compactEvery: 1000,
	}, nil
}

// trimTornTail cuts a trailing partial line so the next append starts on a
// fresh line. It returns the resulting journal size.
func trimTornTail(path string, f *os.File) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	good := int64(bytes.LastIndexByte(b, '\n') + 1)
	if good == int64(len(b)) {
		return good, nil
	}
	if err := f.Truncate(good); err != nil {
		return 0, err
	}
	return good, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Upsert(ctx context.Context, rec domain.MonitoredAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return domain.ErrInvalidAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}

	seq := s.ix.nextSeq
	if cur, ok := s.ix.recs[rec.ID]; ok {
		seq = cur.Seq
	}
	if err := s.appendLocked(journalOp{Op: "put", Seq: seq, Rec: &rec}); err != nil {
		return err
	}
	s.ix.put(rec)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) Get(ctx context.Context, id string) (domain.MonitoredAccount, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return domain.MonitoredAccount{}, ErrClosed
	}
	rec, ok := s.ix.get(id)
	if !ok {
		return domain.MonitoredAccount{}, ErrNotFound
	}
	return rec, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.ix.get(id); !ok {
		return nil
	}
	if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
		return err
	}
	s.ix.del(id)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]domain.MonitoredAccount, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.ix.list(), nil
}

func (s *fileStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

// appendLocked writes one journal line and fsyncs it. The in-memory index is
// only updated by the caller after this succeeds.
func (s *fileStore) appendLocked(op journalOp) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		s.rollbackLocked()
		return fmt.Errorf("journal write: %w", err)
	}
	if err := s.journal.Sync(); err != nil {
		s.rollbackLocked()
		return fmt.Errorf("journal sync: %w", err)
	}
	s.size += int64(len(b))
	return nil
}

// rollbackLocked drops whatever a failed append left behind, so a retried
// write never lands on a torn line.
func (s *fileStore) rollbackLocked() {
	if err := s.journal.Truncate(s.size); err != nil {
		s.log.Error("journal rollback failed", logx.Err(err))
		return
	}
	if _, err := s.journal.Seek(s.size, io.SeekStart); err != nil {
		s.log.Error("journal rollback seek failed", logx.Err(err))
	}
}

func (s *fileStore) afterWriteLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snapshot{Records: s.ix.ordered()}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.size = 0
	_, err = s.journal.Seek(0, io.SeekEnd)
	s.log.Debug("journal compacted", logx.Int("records", len(s.ix.recs)))
	return err
}

func loadSnapshot(path string, ix *index) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, e := range snap.Records {
		if e.Rec.ID == "" {
			continue
		}
		ix.restore(e.Seq, e.Rec)
	}
	return nil
}

// replayJournal applies journal ops in order. Unparseable lines (a torn
// trailing write) are skipped and counted.
func replayJournal(path string, ix *index) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var op journalOp
		if err := json.Unmarshal(line, &op); err != nil {
			skipped++
			continue
		}
		switch op.Op {
		case "put":
			if op.Rec == nil || op.Rec.ID == "" {
				skipped++
				continue
			}
			ix.restore(op.Seq, *op.Rec)
		case "del":
			ix.del(op.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
