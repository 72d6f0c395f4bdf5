package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"igmonitor/internal/config"
	"igmonitor/internal/eventbus"
	"igmonitor/internal/metrics"
	"igmonitor/internal/monitor"
	"igmonitor/internal/sessions"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
)

type nopSender struct{}

func (nopSender) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (nopSender) SendPhoto(context.Context, kit.ChatTarget, kit.Photo, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
		Clients: map[string]config.ClientConfig{
			"keo": {
				ChatID:           -100,
				OwnerUserIDs:     []int64{2},
				Credentials:      []string{"inline"},
				CredentialsFile:  "keo/session.json",
				MinCheckInterval: "1m",
				MaxCheckInterval: "2m",
				Storage:          config.StorageConfig{Driver: "file", Path: "keo/monitor"},
			},
		},
	}
}

func testDeps(dir string) clientDeps {
	return clientDeps{
		sender:   nopSender{},
		bus:      eventbus.Nop(),
		observer: metrics.New(),
		log:      logx.Nop(),
		resolve: func(p string) string {
			if p == "" || filepath.IsAbs(p) {
				return p
			}
			return filepath.Join(dir, p)
		},
	}
}

func TestBuildClientAndApply(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := sessions.WriteFile(filepath.Join(dir, "keo/session.json"), []string{"fromfile"}); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	c, err := buildClient(cfg, "keo", testDeps(dir))
	if err != nil {
		t.Fatalf("buildClient: %v", err)
	}
	defer c.close(context.Background())

	if c.pool.Len() != 2 {
		t.Fatalf("pool = %d credentials, want 2", c.pool.Len())
	}
	if c.settings.MinInterval != time.Minute || c.settings.ChatID != -100 {
		t.Fatalf("settings = %+v", c.settings)
	}
	if _, err := os.Stat(filepath.Join(dir, "keo")); err != nil {
		t.Fatalf("store dir: %v", err)
	}

	next := testConfig(dir)
	kc := next.Clients["keo"]
	kc.Credentials = []string{"inline", "second"}
	next.Clients["keo"] = kc
	if err := c.apply(next, testDeps(dir).resolve); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.pool.Len() != 3 {
		t.Fatalf("pool after reload = %d, want 3", c.pool.Len())
	}
}

func TestBuildClientNeedsCredentials(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(dir)
	kc := cfg.Clients["keo"]
	kc.Credentials = nil
	cfg.Clients["keo"] = kc
	if _, err := buildClient(cfg, "keo", testDeps(dir)); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestStorageConfigDefaults(t *testing.T) {
	t.Parallel()
	resolve := func(p string) string { return filepath.Join("/cfg", p) }
	cases := []struct {
		driver, path string
		want         string
	}{
		{"", "", "/cfg/data/keo/monitor"},
		{"sqlite", "", "/cfg/data/keo/monitor.db"},
		{"sqlite", "x.db", "/cfg/x.db"},
	}
	for _, tc := range cases {
		got := storageConfig(config.ClientSettings{Name: "keo", StorageDriver: tc.driver, StoragePath: tc.path}, resolve)
		if got.Path != tc.want {
			t.Errorf("storageConfig(%q,%q).Path = %q, want %q", tc.driver, tc.path, got.Path, tc.want)
		}
	}
	if got := storageConfig(config.ClientSettings{Name: "keo", StorageDriver: "memory"}, resolve); got.Path != "" {
		t.Errorf("memory path = %q", got.Path)
	}
}

func TestChatResolver(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	body := `{"telegram":{"token":"t","owner_user_ids":[1]},"logging":{"level":"info"},
"clients":{"keo":{"chat_id":-100,"owner_user_ids":[2],"credentials":["s"],"storage":{"driver":"memory"}},
"late":{"chat_id":-200,"credentials":["s"]}}}`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewManager(p)
	cfg, err := cfgm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, err := buildClient(cfg, "keo", testDeps(dir))
	if err != nil {
		t.Fatalf("buildClient: %v", err)
	}
	defer c.close(context.Background())
	mgr := monitor.NewManager()
	if err := mgr.Register(c.engine); err != nil {
		t.Fatal(err)
	}

	r := chatResolver{cfgm: cfgm, mgr: mgr}
	name, owners, ok := r.Resolve(-100)
	if !ok || name != "keo" || len(owners) != 2 {
		t.Fatalf("Resolve(-100) = %q %v %v", name, owners, ok)
	}
	if _, _, ok := r.Resolve(-200); ok {
		t.Fatal("client without a running engine resolved")
	}
	if _, _, ok := r.Resolve(5); ok {
		t.Fatal("unknown chat resolved")
	}
	if admins := r.Admins(); len(admins) != 1 || admins[0] != 1 {
		t.Fatalf("Admins = %v", admins)
	}
}

func TestSettingsPortSessions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := "telegram:\n  token: t\nclients:\n  keo:\n    chat_id: -100\n    credentials: [inline1]\n    storage: { driver: memory }\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewManager(p)
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	port := settingsPort{cfgm: cfgm}
	ctx := context.Background()

	fps, err := port.SetSessions(ctx, "keo", []string{"sessA", "sessB", "sessA"})
	if err != nil {
		t.Fatalf("SetSessions: %v", err)
	}
	if len(fps) != 2 || fps[0] != monitor.Fingerprint("sessA") {
		t.Fatalf("fingerprints = %v", fps)
	}
	cc := cfgm.Get().Clients["keo"]
	if cc.CredentialsFile != "./clients/keo/session.json" || len(cc.Credentials) != 0 {
		t.Fatalf("client = %+v", cc)
	}
	got, err := sessions.ReadFile(filepath.Join(dir, "clients", "keo", "session.json"))
	if err != nil || len(got) != 2 {
		t.Fatalf("sessions file = %v, %v", got, err)
	}

	if err := port.SetInterval(ctx, "keo", 2*time.Minute, 90*time.Minute); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	if err := port.SetProxy(ctx, "keo", "socks5://proxy.local:1080"); err != nil {
		t.Fatalf("SetProxy: %v", err)
	}
	view, err := port.Settings("keo")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if view.MinInterval != 2*time.Minute || view.MaxInterval != 90*time.Minute || !view.ProxyEnabled {
		t.Fatalf("view = %+v", view)
	}
	raw, _ := os.ReadFile(p)
	if !strings.Contains(string(raw), "max_check_interval: 1h30m") {
		t.Fatalf("config file:\n%s", raw)
	}
	if _, err := port.Settings("ghost"); !errors.Is(err, config.ErrUnknownClient) {
		t.Fatalf("unknown client err = %v", err)
	}

	changed, err := port.Reload(ctx)
	if err != nil || changed {
		t.Fatalf("Reload of unchanged file = %v, %v", changed, err)
	}
}

func TestStepperBoundsSlowStep(t *testing.T) {
	t.Parallel()
	step := stepper(context.Background(), logx.Nop())
	start := time.Now()
	step("slow", 50*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("step was not bounded")
	}
	ran := false
	step("fast", time.Second, func(context.Context) error { ran = true; return nil })
	if !ran {
		t.Fatal("fast step did not run")
	}
}
