package server

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TextFiles holds cached text file contents served at connection
// lifecycle points (welcome screen, MOTD, quit message).
type TextFiles struct {
	mu      sync.RWMutex
	Connect string // connect.txt — pre-login welcome screen
	Motd    string // motd.txt — post-login MOTD
	Quit    string // quit.txt — quit message
}

var trackedTextFiles = []string{"connect.txt", "motd.txt", "quit.txt"}

// Accessors read under the lock; use these instead of the fields.
func (tf *TextFiles) GetConnect() string { tf.mu.RLock(); defer tf.mu.RUnlock(); return tf.Connect }
func (tf *TextFiles) GetMotd() string    { tf.mu.RLock(); defer tf.mu.RUnlock(); return tf.Motd }
func (tf *TextFiles) GetQuit() string    { tf.mu.RLock(); defer tf.mu.RUnlock(); return tf.Quit }

// loadTextFile reads one text file, returning empty string on any error.
func loadTextFile(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// LoadTextFiles reads text files from dir. Missing or empty files load
// as empty strings; that is not an error.
func LoadTextFiles(dir string) *TextFiles {
	tf := &TextFiles{}
	tf.loadAll(dir)
	return tf
}

func (tf *TextFiles) loadAll(dir string) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	tf.Connect = loadTextFile(dir, "connect.txt")
	tf.Motd = loadTextFile(dir, "motd.txt")
	tf.Quit = loadTextFile(dir, "quit.txt")

	count := 0
	for _, v := range []string{tf.Connect, tf.Motd, tf.Quit} {
		if v != "" {
			count++
		}
	}
	log.Printf("server: loaded %d text file(s) from %s", count, dir)
}

// WatchTextFiles starts an fsnotify watcher on the text directory and
// reloads the cache whenever a tracked file changes on disk.
func (g *Game) WatchTextFiles() {
	dir := g.Conf.TextDir
	if dir == "" || g.Texts == nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("server: text file watcher unavailable: %v", err)
		return
	}

	tracked := make(map[string]bool, len(trackedTextFiles))
	for _, name := range trackedTextFiles {
		tracked[name] = true
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !tracked[filepath.Base(event.Name)] {
					continue
				}
				log.Printf("server: text file changed: %s", filepath.Base(event.Name))
				g.Texts.loadAll(dir)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("server: text file watcher: %v", err)
			}
		}
	}()

	if err := watcher.Add(dir); err != nil {
		log.Printf("server: cannot watch text directory %s: %v", dir, err)
		watcher.Close()
		return
	}
	log.Printf("server: watching text directory %s", dir)
}
