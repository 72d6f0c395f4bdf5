package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"igmonitor/internal/domain"
)

// index is the ordered in-memory record set shared by the memory and file drivers.
type index struct {
	nextSeq uint64
	recs    map[string]indexed
}

type indexed struct {
	Seq uint64                  `json:"seq"`
	Rec domain.MonitoredAccount `json:"rec"`
}

func newIndex() *index {
	return &index{nextSeq: 1, recs: map[string]indexed{}}
}

// put stores rec and returns its sequence number (kept for existing ids).
func (ix *index) put(rec domain.MonitoredAccount) uint64 {
	if cur, ok := ix.recs[rec.ID]; ok {
		ix.recs[rec.ID] = indexed{Seq: cur.Seq, Rec: rec}
		return cur.Seq
	}
	seq := ix.nextSeq
	ix.nextSeq++
	ix.recs[rec.ID] = indexed{Seq: seq, Rec: rec}
	return seq
}

// restore applies a record with a known sequence (snapshot/journal replay).
func (ix *index) restore(seq uint64, rec domain.MonitoredAccount) {
	if cur, ok := ix.recs[rec.ID]; ok {
		seq = cur.Seq
	}
	ix.recs[rec.ID] = indexed{Seq: seq, Rec: rec}
	if seq >= ix.nextSeq {
		ix.nextSeq = seq + 1
	}
}

func (ix *index) get(id string) (domain.MonitoredAccount, bool) {
	e, ok := ix.recs[id]
	return e.Rec, ok
}

func (ix *index) del(id string) bool {
	if _, ok := ix.recs[id]; !ok {
		return false
	}
	delete(ix.recs, id)
	return true
}

func (ix *index) ordered() []indexed {
	out := make([]indexed, 0, len(ix.recs))
	for _, e := range ix.recs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (ix *index) list() []domain.MonitoredAccount {
	ents := ix.ordered()
	out := make([]domain.MonitoredAccount, len(ents))
	for i, e := range ents {
		out[i] = e.Rec
	}
	return out
}

// Memory is a volatile Store.
type Memory struct {
	mu     sync.Mutex
	ix     *index
	closed bool
}

func NewMemory() *Memory { return &Memory{ix: newIndex()} }

func (m *Memory) Upsert(ctx context.Context, rec domain.MonitoredAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return domain.ErrInvalidAccount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.ix.put(rec)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (domain.MonitoredAccount, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.MonitoredAccount{}, ErrClosed
	}
	rec, ok := m.ix.get(id)
	if !ok {
		return domain.MonitoredAccount{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.ix.del(id)
	return nil
}

func (m *Memory) ListAll(ctx context.Context) ([]domain.MonitoredAccount, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.ix.list(), nil
}

func (m *Memory) Compact(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
