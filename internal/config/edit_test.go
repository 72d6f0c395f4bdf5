package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

const editYAMLBody = `# production bot
telegram:
  token: "${BOT_TOKEN}"
  owner_user_ids: [1]
clients:
  keo:
    chat_id: -100123
    credentials: ["${KEO_SESSION}"]
    # five minutes between checks
    min_check_interval: 5m
    proxy_url: http://old.proxy:8080
    storage: { driver: file, path: ./clients/keo/monitor }
  mira:
    chat_id: -100456
    credentials_file: ./clients/mira/session.json
`

func TestSetClientYAML(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := writeConfig(t, "config.yaml", editYAMLBody, "BOT_TOKEN=123:abc\nKEO_SESSION=sess1\n")
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	cfg, err := m.SetClient(ctx, "keo", map[string]any{
		"min_check_interval": "2m",
		"max_check_interval": "4m",
		"proxy_url":          nil,
	})
	if err != nil {
		t.Fatalf("SetClient: %v", err)
	}
	s, err := cfg.Settings("keo")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.MinInterval != 2*time.Minute || s.MaxInterval != 4*time.Minute || s.ProxyURL != "" {
		t.Fatalf("settings = %+v", s)
	}
	if m.Get() != cfg {
		t.Fatal("edit not committed")
	}
	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("published a different config")
		}
	case <-time.After(time.Second):
		t.Fatal("edit not published")
	}

	raw, err := os.ReadFile(m.Path())
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, want := range []string{"# production bot", "${BOT_TOKEN}", "${KEO_SESSION}", "# five minutes between checks", "credentials_file: ./clients/mira/session.json"} {
		if !strings.Contains(text, want) {
			t.Fatalf("edited file lost %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "old.proxy") {
		t.Fatalf("removed key still present:\n%s", text)
	}
}

func TestSetClientRejectsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := writeConfig(t, "config.yaml", editYAMLBody, "BOT_TOKEN=123:abc\nKEO_SESSION=sess1\n")
	prev, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	before, _ := os.ReadFile(m.Path())

	cases := []struct {
		name   string
		client string
		values map[string]any
	}{
		{name: "unknown client", client: "ghost", values: map[string]any{"proxy_url": "http://p:1"}},
		{name: "max below min", client: "keo", values: map[string]any{"min_check_interval": "10m", "max_check_interval": "1m"}},
		{name: "bad proxy", client: "keo", values: map[string]any{"proxy_url": "::nope"}},
		{name: "no credentials left", client: "keo", values: map[string]any{"credentials": nil}},
	}
	for _, tc := range cases {
		if _, err := m.SetClient(ctx, tc.client, tc.values); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
	if _, err := m.SetClient(ctx, "ghost", map[string]any{"x": "y"}); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("unknown client err = %v", err)
	}
	after, _ := os.ReadFile(m.Path())
	if string(before) != string(after) {
		t.Fatal("rejected edit modified the file")
	}
	if m.Get() != prev {
		t.Fatal("rejected edit replaced the committed config")
	}
}

func TestSetClientJSON(t *testing.T) {
	t.Parallel()
	body := `{"telegram":{"token":"t"},"clients":{"a":{"chat_id":-1001234567890123,"credentials":["s"]}}}`
	m := writeConfig(t, "config.json", body, "")
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := m.SetClient(context.Background(), "a", map[string]any{"proxy_url": "http://user:pw@proxy.local:3128"})
	if err != nil {
		t.Fatalf("SetClient: %v", err)
	}
	a := cfg.Clients["a"]
	if a.ChatID != -1001234567890123 || a.ProxyURL != "http://user:pw@proxy.local:3128" {
		t.Fatalf("client = %+v", a)
	}
}

func TestRefreshRepublishes(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"telegram":{"token":"t"},"clients":{"a":{"chat_id":1,"credentials":["s"]}}}`, "")
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	m.Refresh()
	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("Refresh published a different config")
		}
	default:
		t.Fatal("Refresh published nothing")
	}
}

func TestReloadReportsChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := writeConfig(t, "config.json", `{"telegram":{"token":"t"},"clients":{"a":{"chat_id":1,"credentials":["s"]}}}`, "")
	prev, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("unchanged Reload = %v, %v", changed, err)
	}

	if err := os.WriteFile(m.Path(), []byte(`{"telegram":{"token":"t"},"clients":{"a":{"chat_id":1,"credentials":["s"],"min_check_interval":"2m","max_check_interval":"2m"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("changed Reload = %v, %v", changed, err)
	}
	if m.Get() == prev {
		t.Fatal("changed config not committed")
	}

	kept := m.Get()
	if err := os.WriteFile(m.Path(), []byte(`{"telegram":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatal("broken file accepted")
	}
	if m.Get() != kept {
		t.Fatal("broken file replaced the config")
	}
}
