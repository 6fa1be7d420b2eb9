package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gaia-mud/gaia/pkg/world"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadWorldDir(t *testing.T) {
	g := newTestGame(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "rooms.yaml"), `
- id: "#garden"
  name: garden
  description: An overgrown garden.
  parentIds: ["#object"]
  attributes:
    exits:
      - north
      - south
    size: 40
- id: "#shed"
  name: shed
  parentIds: ["#object"]
  locationId: "#garden"
`)
	writeFile(t, filepath.Join(dir, "sign.json"), `{
  "id": "#sign",
  "name": "sign",
  "parentIds": ["#object"],
  "attributes": {"text": "KEEP OUT", "weight": 3}
}`)
	writeFile(t, filepath.Join(dir, "ritual.g"), `[log "the ritual begins"]`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a definition file")

	n, err := g.LoadWorldDir(dir)
	if err != nil {
		t.Fatalf("LoadWorldDir: %v", err)
	}
	if n != 4 {
		t.Errorf("loaded %d objects, want 4", n)
	}

	garden, err := g.Cache.Get("#garden")
	if err != nil {
		t.Fatalf("Get #garden: %v", err)
	}
	if garden.Description != "An overgrown garden." {
		t.Errorf("description = %q", garden.Description)
	}
	// YAML scalars normalize to G values: sequences to List, integers to
	// float64.
	if v, _ := garden.Attr("exits"); len(v.(world.List)) != 2 {
		t.Errorf("exits = %#v", v)
	}
	if v, _ := garden.Attr("size"); v != float64(40) {
		t.Errorf("size = %v (%T), want float64 40", v, v)
	}

	sign, err := g.Cache.Get("#sign")
	if err != nil {
		t.Fatalf("Get #sign: %v", err)
	}
	if v, _ := sign.Attr("weight"); v != float64(3) {
		t.Errorf("weight = %v (%T), want float64 3", v, v)
	}

	// The .g file became the run attribute of #ritual.
	v, ok, err := g.Cache.GetAttribute("#ritual", "run")
	if err != nil || !ok {
		t.Fatalf("GetAttribute #ritual run: ok=%v err=%v", ok, err)
	}
	if v != `[log "the ritual begins"]` {
		t.Errorf("run = %q", v)
	}
}

func TestLoadWorldDirRejectsAnonymousObjects(t *testing.T) {
	g := newTestGame(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), "name: nameless\n")

	if _, err := g.LoadWorldDir(dir); err == nil {
		t.Error("object without an id accepted")
	}
}

func TestLoadTextFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "motd.txt"), "News: nothing happened.\n")
	writeFile(t, filepath.Join(dir, "connect.txt"), "Welcome traveler.\n")

	tf := LoadTextFiles(dir)
	if tf.GetMotd() != "News: nothing happened.\n" {
		t.Errorf("Motd = %q", tf.GetMotd())
	}
	if tf.GetConnect() != "Welcome traveler.\n" {
		t.Errorf("Connect = %q", tf.GetConnect())
	}
	if tf.GetQuit() != "" {
		t.Errorf("Quit = %q, want empty for missing file", tf.GetQuit())
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := OpenAuditLog(path)
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	a.Record("root", "admin:create", "#shrine")
	a.Record("alice", "login", "127.0.0.1")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close drained the queue; the entries are durable.
	a, err = OpenAuditLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()
	rows, err := a.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Recent returned %d rows, want 2", len(rows))
	}
	// Newest first.
	if !anyContains(rows[:1], "login") || !anyContains(rows[1:], "admin:create") {
		t.Errorf("rows out of order: %q", rows)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, path, "world_name: atlantis\ntelnet_port: 9999\ntick_interval: 5s\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorldName != "atlantis" || cfg.TelnetPort != 9999 {
		t.Errorf("overrides missing: %+v", cfg)
	}
	if cfg.WebPort != 4000 {
		t.Errorf("default WebPort = %d, want 4000", cfg.WebPort)
	}
	if cfg.TickInterval.Seconds() != 5 {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
}
