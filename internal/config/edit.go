package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	logx "igmonitor/pkg/logx"
)

var ErrUnknownClient = errors.New("client not configured")

// SetClient rewrites keys under clients.<name> in the config file, validates
// the result, replaces the file atomically and publishes the new config. A
// nil value removes the key. YAML files keep their comments and ${VAR}
// references; JSON files are re-indented.
func (m *Manager) SetClient(ctx context.Context, name string, values map[string]any) (*Config, error) {
	m.editMu.Lock()
	defer m.editMu.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var out []byte
	switch strings.ToLower(filepath.Ext(m.path)) {
	case ".yaml", ".yml":
		out, err = editYAML(raw, name, values)
	default:
		out, err = editJSON(raw, name, values)
	}
	if err != nil {
		return nil, err
	}

	cfg, err := m.parseBytes(out)
	if err != nil {
		return nil, fmt.Errorf("edited config invalid: %w", err)
	}
	if err := m.validate(ctx, cfg); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(m.path, out); err != nil {
		return nil, err
	}

	m.mu.RLock()
	prev := m.cfg
	m.mu.RUnlock()
	m.log.Info("config edited", logx.String("client", name), logx.Any("keys", sortedKeys(values)))
	m.commitAndPublish(prev, cfg, hashConfig(cfg))
	return cfg, nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func editYAML(raw []byte, name string, values map[string]any) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("config is empty")
	}
	client := mapValue(mapValue(doc.Content[0], "clients"), name)
	if client == nil || client.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownClient)
	}
	for _, k := range sortedKeys(values) {
		v := values[k]
		if v == nil {
			deleteKey(client, k)
			continue
		}
		var n yaml.Node
		if err := n.Encode(v); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		setKey(client, k, &n)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mapValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func setKey(n *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			v.HeadComment, v.LineComment = n.Content[i+1].HeadComment, n.Content[i+1].LineComment
			n.Content[i+1] = v
			return
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	n.Content = append(n.Content, k, v)
}

func deleteKey(n *yaml.Node, key string) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			n.Content = append(n.Content[:i], n.Content[i+2:]...)
			return
		}
	}
}

func editJSON(raw []byte, name string, values map[string]any) ([]byte, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	clients, _ := doc["clients"].(map[string]any)
	client, ok := clients[name].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownClient)
	}
	for k, v := range values {
		if v == nil {
			delete(client, k)
			continue
		}
		client[k] = v
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// writeFileAtomic keeps the original file mode.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
