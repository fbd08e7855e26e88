package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rahvis/VideoForge/internal/metrics"
	"github.com/rahvis/VideoForge/internal/model"
)

// SegmentCache is a content-addressed file cache keyed by scene prompt
// and segment index. It is advisory: any inconsistency between the
// manifest and the disk reads as a miss and self-heals.
type SegmentCache struct {
	dir        string
	ttl        time.Duration
	hashLength int
	log        *slog.Logger

	mu          sync.Mutex
	entries     map[string]model.CacheEntry
	lastCleanup time.Time
}

type manifest struct {
	Entries     map[string]model.CacheEntry `json:"entries"`
	LastCleanup time.Time                   `json:"last_cleanup"`
}

const manifestName = "manifest.json"

func New(dir string, ttl time.Duration, hashLength int, logger *slog.Logger) (*SegmentCache, error) {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	if hashLength < 8 || hashLength > 64 {
		hashLength = 32
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &SegmentCache{
		dir:        dir,
		ttl:        ttl,
		hashLength: hashLength,
		log:        logger,
		entries:    map[string]model.CacheEntry{},
	}
	c.loadManifest()
	return c, nil
}

func (c *SegmentCache) loadManifest() {
	raw, err := os.ReadFile(filepath.Join(c.dir, manifestName))
	if err != nil {
		return
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		// Corrupt manifest: start empty, files get re-adopted on store.
		c.log.Warn("cache_manifest_corrupt", "error", err)
		return
	}
	if m.Entries != nil {
		c.entries = m.Entries
	}
	c.lastCleanup = m.LastCleanup
}

// writeManifest rewrites the manifest atomically. Callers hold c.mu.
func (c *SegmentCache) writeManifest() error {
	raw, err := json.MarshalIndent(manifest{Entries: c.entries, LastCleanup: c.lastCleanup}, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.dir, manifestName))
}

func (c *SegmentCache) key(prompt string, segmentNumber int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", prompt, segmentNumber)))
	return hex.EncodeToString(sum[:])[:c.hashLength]
}

// Lookup returns the cached file path for a prompt+segment pair, or ""
// on a miss. Expired or broken entries are removed on the way out.
func (c *SegmentCache) Lookup(prompt string, segmentNumber int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.key(prompt, segmentNumber)
	entry, ok := c.entries[hash]
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return ""
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.dropLocked(hash, entry)
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		return ""
	}
	if _, err := os.Stat(entry.FilePath); err != nil {
		c.dropLocked(hash, entry)
		metrics.CacheLookupsTotal.WithLabelValues("missing_file").Inc()
		return ""
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return entry.FilePath
}

// Store copies the source file into the cache and records the entry.
func (c *SegmentCache) Store(prompt string, segmentNumber int, sourcePath string, duration float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.key(prompt, segmentNumber)
	dest := filepath.Join(c.dir, hash+".mp4")
	if err := copyFile(sourcePath, dest); err != nil {
		return "", fmt.Errorf("cache segment %d: %w", segmentNumber, err)
	}
	now := time.Now().UTC()
	c.entries[hash] = model.CacheEntry{
		Hash:      hash,
		FilePath:  dest,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Metadata: model.CacheEntryMetadata{
			ScenePrompt:   prompt,
			SegmentNumber: segmentNumber,
			Duration:      duration,
		},
	}
	if err := c.writeManifest(); err != nil {
		return "", err
	}
	return dest, nil
}

// CopyTo places a cached segment at targetPath; false means miss.
func (c *SegmentCache) CopyTo(prompt string, segmentNumber int, targetPath string) bool {
	src := c.Lookup(prompt, segmentNumber)
	if src == "" {
		return false
	}
	if err := copyFile(src, targetPath); err != nil {
		c.log.Warn("cache_copy_failed", "hash", c.key(prompt, segmentNumber), "error", err)
		return false
	}
	return true
}

// Cleanup purges expired entries, at most once per 24 hours unless
// force is set.
func (c *SegmentCache) Cleanup(force bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !force && now.Sub(c.lastCleanup) < 24*time.Hour {
		return 0
	}
	removed := 0
	for hash, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			c.dropLocked(hash, entry)
			removed++
		}
	}
	c.lastCleanup = now
	if err := c.writeManifest(); err != nil {
		c.log.Error("cache_manifest_write_failed", "error", err)
	}
	if removed > 0 {
		c.log.Info("cache_cleanup", "removed", removed)
	}
	return removed
}

func (c *SegmentCache) dropLocked(hash string, entry model.CacheEntry) {
	delete(c.entries, hash)
	_ = os.Remove(entry.FilePath)
	if err := c.writeManifest(); err != nil {
		c.log.Error("cache_manifest_write_failed", "error", err)
	}
}

type Stats struct {
	Entries    int       `json:"entries"`
	TotalBytes int64     `json:"total_bytes"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Newest     time.Time `json:"newest,omitempty"`
}

func (c *SegmentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Entries: len(c.entries)}
	for _, entry := range c.entries {
		if info, err := os.Stat(entry.FilePath); err == nil {
			st.TotalBytes += info.Size()
		}
		if st.Oldest.IsZero() || entry.CreatedAt.Before(st.Oldest) {
			st.Oldest = entry.CreatedAt
		}
		if entry.CreatedAt.After(st.Newest) {
			st.Newest = entry.CreatedAt
		}
	}
	return st
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
