package sensor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleConfig = `{"site":"North","tanks":[{"tank":1,"subType":"pressure","rangeMin":0,"rangeMax":5},{"tank":2,"subType":"ultrasonic","rangeMin":0,"rangeMax":4,"mountHeight":3}]}`

func TestConfigCachePutGet(t *testing.T) {
	c, err := NewConfigCache("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConfigCache: %v", err)
	}

	if err := c.Put("dev:A", json.RawMessage(sampleConfig)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap, ok := c.Get("dev:A")
	if !ok {
		t.Fatal("Get: snapshot missing")
	}
	if snap.Site != "North" {
		t.Errorf("Site = %q, want North", snap.Site)
	}
	if len(snap.Tanks) != 2 {
		t.Fatalf("Tanks = %d, want 2", len(snap.Tanks))
	}

	tc, ok := c.TankConfig("dev:A", 2)
	if !ok {
		t.Fatal("TankConfig(dev:A, 2) missing")
	}
	if tc.SubType != "ultrasonic" || tc.MountHeight != 3 {
		t.Errorf("tank 2 config = %+v", tc)
	}

	if _, ok := c.TankConfig("dev:A", 9); ok {
		t.Error("TankConfig for unknown tank returned ok")
	}
	if _, ok := c.TankConfig("dev:B", 1); ok {
		t.Error("TankConfig for unknown device returned ok")
	}
}

func TestConfigCacheRejectsBadJSON(t *testing.T) {
	c, _ := NewConfigCache("", zerolog.Nop())
	if err := c.Put("dev:A", json.RawMessage(`{"site":`)); err == nil {
		t.Fatal("expected validation error for truncated JSON")
	}
	if _, ok := c.Get("dev:A"); ok {
		t.Error("bad config was cached")
	}
}

func TestConfigCacheMirrorRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c, err := NewConfigCache(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConfigCache: %v", err)
	}
	if err := c.Put("dev:A", json.RawMessage(sampleConfig)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c2, err := NewConfigCache(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConfigCache reload: %v", err)
	}
	snap, ok := c2.Get("dev:A")
	if !ok {
		t.Fatal("snapshot not restored from mirror")
	}
	if snap.Site != "North" || len(snap.Tanks) != 2 {
		t.Errorf("restored snapshot = %+v", snap)
	}
}

func TestConfigCacheSkipsTruncatedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device_configs.tsv")
	content := "dev:A\t" + sampleConfig + "\n" +
		"dev:B\t{\"site\":\n" +
		"no-tab-line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewConfigCache(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConfigCache: %v", err)
	}
	if _, ok := c.Get("dev:A"); !ok {
		t.Error("valid line not restored")
	}
	if _, ok := c.Get("dev:B"); ok {
		t.Error("truncated line restored")
	}
	if got := len(c.All()); got != 1 {
		t.Errorf("All = %d, want 1", got)
	}
}
