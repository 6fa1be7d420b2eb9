package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gaia-mud/gaia/pkg/world"
)

// LoadWorldDir walks a definition file tree and loads every object into
// the cache. YAML and JSON files carry one object or an array of objects
// in the persisted schema; a .g file holds G source assigned to the run
// attribute of the object named by the file's base name.
func (g *Game) LoadWorldDir(dir string) (int, error) {
	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		n, err := g.loadWorldFile(path)
		if err != nil {
			return fmt.Errorf("server: load %s: %w", path, err)
		}
		loaded += n
		return nil
	})
	if err != nil {
		return loaded, err
	}
	log.Printf("server: loaded %d object(s) from %s", loaded, dir)
	return loaded, nil
}

func (g *Game) loadWorldFile(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return g.loadObjectFile(path, yaml.Unmarshal)
	case ".json":
		return g.loadObjectFile(path, json.Unmarshal)
	case ".g":
		return g.loadSourceFile(path)
	}
	return 0, nil // not a world definition
}

func (g *Game) loadObjectFile(path string, unmarshal func([]byte, any) error) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	// A document is either one object or an array of objects.
	var many []*world.Object
	if err := unmarshal(data, &many); err != nil {
		var one world.Object
		if err := unmarshal(data, &one); err != nil {
			return 0, err
		}
		many = []*world.Object{&one}
	}

	for i, obj := range many {
		if obj.ID == "" {
			return i, fmt.Errorf("document %d has no id", i)
		}
		obj.Attributes = normalizeAttributes(obj.Attributes)
		if err := g.Cache.Put(obj); err != nil {
			return i, fmt.Errorf("object %s: %w", obj.ID, err)
		}
	}
	return len(many), nil
}

// loadSourceFile assigns a .g file to the run attribute of the object
// whose ID is the file base name.
func (g *Game) loadSourceFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id := base
	if !strings.HasPrefix(id, "#") {
		id = "#" + id
	}
	if _, err := g.Cache.Get(id); err != nil {
		// The object may be defined by a later file; create it.
		if perr := g.Cache.Put(&world.Object{ID: id, ParentIDs: []string{world.RootID}}); perr != nil {
			return 0, perr
		}
	}
	if err := g.Cache.SetAttribute(id, "run", string(data)); err != nil {
		return 0, err
	}
	return 1, nil
}

// normalizeAttributes rewrites decoded YAML/JSON values into the world
// value forms: nested maps become Dicts, arrays become Lists, integers
// become float64, and "#..." strings under a ref key stay plain strings
// (references are typed only in softcode).
func normalizeAttributes(attrs map[string]world.Value) map[string]world.Value {
	if attrs == nil {
		return nil
	}
	out := make(map[string]world.Value, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) world.Value {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []any:
		l := make(world.List, len(t))
		for i, e := range t {
			l[i] = normalizeValue(e)
		}
		return l
	case map[string]any:
		d := make(world.Dict, len(t))
		for k, e := range t {
			d[k] = normalizeValue(e)
		}
		return d
	case map[any]any:
		d := make(world.Dict, len(t))
		for k, e := range t {
			d[fmt.Sprint(k)] = normalizeValue(e)
		}
		return d
	}
	return v
}
