// Package graphs implements the Graph Indexer (spec.md §4.4 / C4): turning
// the do-file run's generated "GRAPHS DETECTED" log block into a list of
// exported image files, with an fsnotify watch layered on top as a
// consistency check against the log-block parse drifting from disk.
package graphs

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/stata-bridge/internal/logging"
)

// GraphRef is one exported graph image discovered for a run.
type GraphRef struct {
	Name         string
	AbsolutePath string
	CreatedAt    time.Time
	Sequence     int
}

var blockRe = regexp.MustCompile(`\*\*\* GRAPHS DETECTED \*\*\*`)
var endRe = regexp.MustCompile(`\*\*\* END GRAPHS \*\*\*`)

// Index scans a run's log output for the GRAPHS DETECTED block, the source
// of truth per spec.md §4.4, and watches the graphs directory with fsnotify
// as a defense-in-depth check — a mismatch is logged but never overrides
// the log-block result.
type Index struct {
	mu       sync.Mutex
	watchers map[string]*fsnotify.Watcher
	seen     map[string]map[string]bool // dir -> filename -> true
}

// NewIndex builds an empty Index.
func NewIndex() *Index {
	return &Index{
		watchers: make(map[string]*fsnotify.Watcher),
		seen:     make(map[string]map[string]bool),
	}
}

// Scan parses logContent for a GRAPHS DETECTED block naming files under
// dir, replacing any previous registry entry for dir in a single shot
// (spec.md §4.4: "subsequent runs fully replace the prior graph list").
// If the block is absent or names no files, Scan falls back to listing
// dir directly so graphs still surface even if log parsing misses them.
func (idx *Index) Scan(dir string, logContent string) []GraphRef {
	names := parseGraphBlock(logContent)
	if len(names) == 0 {
		names = listDirFallback(dir)
	}

	refs := make([]GraphRef, 0, len(names))
	for i, name := range names {
		abs := filepath.Join(dir, name)
		info, err := os.Stat(abs)
		created := time.Now()
		if err == nil {
			created = info.ModTime()
		}
		refs = append(refs, GraphRef{
			Name:         stripImageExt(name),
			AbsolutePath: abs,
			CreatedAt:    created,
			Sequence:     i + 1,
		})
	}

	idx.checkConsistency(dir, refs)
	return refs
}

// parseGraphBlock extracts filenames listed between the GRAPHS DETECTED and
// END GRAPHS markers written by the do-file postamble, one name per line.
func parseGraphBlock(logContent string) []string {
	scanner := bufio.NewScanner(strings.NewReader(logContent))
	var inBlock bool
	var names []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case blockRe.MatchString(line):
			inBlock = true
		case endRe.MatchString(line):
			inBlock = false
		case inBlock && line != "":
			names = append(names, line)
		}
	}
	return names
}

// stripImageExt removes a trailing .png/.svg/.pdf extension (case
// insensitive) so GraphRef.Name matches what Worker.GraphPath expects a
// client to request — the do-file postamble and disk listing both carry
// the extension, but GraphPath re-appends it rather than requiring the
// caller to know it.
func stripImageExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".png", ".svg", ".pdf":
		return strings.TrimSuffix(name, filepath.Ext(name))
	default:
		return name
	}
}

// listDirFallback enumerates image files directly, sorted by name, used
// when the log block is missing or empty.
func listDirFallback(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".png" || ext == ".svg" || ext == ".pdf" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Watch starts an fsnotify watch on dir, used purely to log a warning if
// disk contents diverge from what Scan most recently reported — it never
// drives the registry itself.
func (idx *Index) Watch(dir string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.watchers[dir]; ok {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	idx.watchers[dir] = w

	go func() {
		log := logging.Named("graphs")
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					log.Debugw("graph file changed on disk", "path", ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("graph watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close tears down all active watches.
func (idx *Index) Close() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, w := range idx.watchers {
		w.Close()
	}
	idx.watchers = make(map[string]*fsnotify.Watcher)
}

// checkConsistency compares the just-parsed refs against dir's actual
// image files and logs a mismatch — a defensive check, never authoritative.
func (idx *Index) checkConsistency(dir string, refs []GraphRef) {
	onDisk := listDirFallback(dir)
	idx.mu.Lock()
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r.Name] = true
	}
	idx.seen[dir] = seen
	idx.mu.Unlock()

	if len(onDisk) == len(refs) {
		return
	}
	logging.Named("graphs").Warnw("graph registry vs disk mismatch",
		"dir", dir, "registry_count", len(refs), "disk_count", len(onDisk))
}
