package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"igmonitor/internal/domain"
	logx "igmonitor/pkg/logx"
)

type opener func(t *testing.T, dir string) Store

func drivers() map[string]opener {
	return map[string]opener{
		"file": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "monitor.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "monitor.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		},
	}
}

func sampleRecord(id string, base time.Time) domain.MonitoredAccount {
	return domain.MonitoredAccount{
		ID:          id,
		State:       domain.StateSuspended,
		CheckCount:  3,
		NextCheckAt: base.Add(7 * time.Minute),
		CreatedAt:   base,
		LastStatus:  404,
		AddedBy:     -100123,
	}
}

func TestStoreRoundTripAndReopen(t *testing.T) {
	t.Parallel()
	for name, open := range drivers() {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			dir := t.TempDir()
			base := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

			st := open(t, dir)
			for _, id := range []string{"nasa", "spacex", "esa"} {
				if err := st.Upsert(ctx, sampleRecord(id, base)); err != nil {
					t.Fatalf("Upsert(%s): %v", id, err)
				}
			}
			// updating an existing record keeps its position
			upd := sampleRecord("nasa", base)
			upd.State = domain.StateActive
			upd.CheckCount = 4
			upd.LastCheckedAt = base.Add(time.Minute)
			if err := st.Upsert(ctx, upd); err != nil {
				t.Fatalf("Upsert(update): %v", err)
			}
			if err := st.Delete(ctx, "spacex"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Delete(ctx, "missing"); err != nil {
				t.Fatalf("Delete(missing) should be a no-op, got %v", err)
			}
			if err := st.Upsert(ctx, sampleRecord("spacex", base)); err != nil {
				t.Fatalf("Upsert(re-add): %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = open(t, dir)
			defer st.Close()

			got, err := st.ListAll(ctx)
			if err != nil {
				t.Fatalf("ListAll: %v", err)
			}
			wantOrder := []string{"nasa", "esa", "spacex"}
			if len(got) != len(wantOrder) {
				t.Fatalf("ListAll len=%d, want %d (%v)", len(got), len(wantOrder), got)
			}
			for i, id := range wantOrder {
				if got[i].ID != id {
					t.Fatalf("ListAll[%d]=%s, want %s", i, got[i].ID, id)
				}
			}
			if !got[0].Equal(upd) {
				t.Fatalf("reopened record = %+v, want %+v", got[0], upd)
			}

			rec, err := st.Get(ctx, "esa")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !rec.Equal(sampleRecord("esa", base)) {
				t.Fatalf("Get(esa) = %+v", rec)
			}
			if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err=%v, want ErrNotFound", err)
			}

			if err := st.Compact(ctx); err != nil {
				t.Fatalf("Compact: %v", err)
			}
			after, err := st.ListAll(ctx)
			if err != nil || len(after) != 3 {
				t.Fatalf("ListAll after compact = %v, %v", after, err)
			}
		})
	}
}

func TestFileStoreCompactionSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "keo.json")}
	base := time.Unix(1700000000, 0)

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 5
	for i := 0; i < 12; i++ {
		rec := sampleRecord("acct", base)
		rec.CheckCount = int64(i)
		if err := st.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert #%d: %v", i, err)
		}
	}
	if err := st.Upsert(ctx, sampleRecord("other", base)); err != nil {
		t.Fatalf("Upsert(other): %v", err)
	}
	_ = st.Close()

	if _, err := os.Stat(filepath.Join(dir, "keo.snapshot.json")); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	rec, err := st.Get(ctx, "acct")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.CheckCount != 11 {
		t.Fatalf("CheckCount=%d, want 11", rec.CheckCount)
	}
	all, _ := st.ListAll(ctx)
	if len(all) != 2 || all[0].ID != "acct" || all[1].ID != "other" {
		t.Fatalf("ListAll=%v", all)
	}
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "m.json")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Upsert(ctx, sampleRecord("nasa", time.Unix(1700000000, 0))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = st.Close()

	f, err := os.OpenFile(filepath.Join(dir, "m.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"op":"put","seq":2,"rec":{"id":"hal`)
	_ = f.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	all, _ := st.ListAll(ctx)
	if len(all) != 1 || all[0].ID != "nasa" {
		t.Fatalf("ListAll=%v, want only nasa", all)
	}
}

// tearingJournal writes half of the first line it is given and then fails.
type tearingJournal struct {
	journalFile
	tore bool
}

func (j *tearingJournal) Write(p []byte) (int, error) {
	if !j.tore {
		j.tore = true
		n, _ := j.journalFile.Write(p[:len(p)/2])
		return n, errors.New("short write")
	}
	return j.journalFile.Write(p)
}

func TestFileStoreFailedAppendKeepsLaterWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "m.json")}
	base := time.Unix(1700000000, 0).UTC()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Upsert(ctx, sampleRecord("nasa", base)); err != nil {
		t.Fatalf("Upsert(nasa): %v", err)
	}
	fs := st.(*fileStore)
	fs.journal = &tearingJournal{journalFile: fs.journal}

	if err := st.Upsert(ctx, sampleRecord("spacex", base)); err == nil {
		t.Fatal("torn append reported success")
	}
	if _, err := st.Get(ctx, "spacex"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed write visible: %v", err)
	}
	if err := st.Upsert(ctx, sampleRecord("spacex", base)); err != nil {
		t.Fatalf("retried Upsert: %v", err)
	}
	_ = st.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	all, _ := st.ListAll(ctx)
	if len(all) != 2 || all[0].ID != "nasa" || all[1].ID != "spacex" {
		t.Fatalf("ListAll after reopen = %v, want nasa and spacex", all)
	}
}

func TestFileStoreAppendAfterTornTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "m.json")}
	if err := os.WriteFile(filepath.Join(dir, "m.journal.jsonl"), []byte(`{"op":"put","seq":1,"rec":{"id":"hal`), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Upsert(ctx, sampleRecord("nasa", time.Unix(1700000000, 0))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = st.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if all, _ := st.ListAll(ctx); len(all) != 1 || all[0].ID != "nasa" {
		t.Fatalf("ListAll = %v, want nasa", all)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	if err := st.Upsert(ctx, domain.MonitoredAccount{}); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Fatalf("Upsert(empty id) err=%v", err)
	}
	_ = st.Upsert(ctx, domain.MonitoredAccount{ID: "b"})
	_ = st.Upsert(ctx, domain.MonitoredAccount{ID: "a"})
	_ = st.Upsert(ctx, domain.MonitoredAccount{ID: "b", CheckCount: 2})
	all, _ := st.ListAll(ctx)
	if len(all) != 2 || all[0].ID != "b" || all[0].CheckCount != 2 || all[1].ID != "a" {
		t.Fatalf("ListAll=%v", all)
	}
	_ = st.Close()
	if _, err := st.ListAll(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("ListAll after close err=%v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
