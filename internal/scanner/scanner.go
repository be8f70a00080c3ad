package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lballaty/myragdb/internal/gitignore"
)

// sniffCacheSize bounds the binary-sniff cache. Incremental rescans of
// large sources hit the same unchanged files repeatedly.
const sniffCacheSize = 4096

// ErrBinaryFile is reported by ReadFileText for files with null bytes.
var ErrBinaryFile = fmt.Errorf("binary file")

// Scanner discovers indexable files under a source root.
type Scanner struct {
	// sniffCache caches binary-sniff verdicts keyed by path, size, and
	// mtime so unchanged files are not re-opened on every scan.
	sniffCache *lru.Cache[string, bool]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, bool](sniffCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create sniff cache: %w", err)
	}
	return &Scanner{sniffCache: cache}, nil
}

// Scan streams the indexable files under opts.RootDir.
// The returned channel is closed when the walk completes or the
// context is cancelled. Per-file problems are skipped silently; a walk
// failure is delivered as the final ScanResult.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxFileSize, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	var ignore *gitignore.Matcher
	if opts.RespectGitignore {
		ignore = gitignore.New()
		// A missing root .gitignore just means no rules yet.
		_ = ignore.AddFromFile(filepath.Join(absRoot, ".gitignore"), "")
	}

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}
		relSlash := filepath.ToSlash(relPath)

		if d.IsDir() {
			if ExcludedDir(d.Name(), relSlash, opts) {
				return filepath.SkipDir
			}
			if ignore != nil {
				if ignore.Match(relSlash, true) {
					return filepath.SkipDir
				}
				// WalkDir visits a directory before its children, so
				// rules load ahead of everything they can affect.
				_ = ignore.AddFromFile(filepath.Join(path, ".gitignore"), relSlash)
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if !MatchesFilters(relSlash, opts) {
			return nil
		}
		if ignore != nil && ignore.Match(relSlash, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		// Size cap is inclusive: a file exactly at the cap is indexed.
		if info.Size() > maxFileSize {
			return nil
		}

		if s.isBinaryFile(path, info.Size(), info.ModTime().UnixNano()) {
			return nil
		}

		language, contentType := DetectKind(relSlash)

		fileInfo := &FileInfo{
			Path:        relSlash,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: contentType,
			Language:    language,
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// ExcludedDir checks default directory names and user excludes.
// The watcher uses it to prune subtrees it should never subscribe to.
func ExcludedDir(name, relSlash string, opts *ScanOptions) bool {
	if defaultExcludeDirs[name] {
		return true
	}
	if opts == nil {
		return false
	}

	for _, pattern := range opts.ExcludePatterns {
		// A trailing /** also matches the directory itself, so whole
		// subtrees are pruned without visiting them.
		if doublestar.MatchUnvalidated(pattern, relSlash) {
			return true
		}
	}

	return false
}

// MatchesFilters reports whether a source-relative slash path passes
// the include and exclude rules, without the size cap and binary
// sniff. The watcher applies it so reactive events see the same
// filtering as a full scan.
func MatchesFilters(relSlash string, opts *ScanOptions) bool {
	if opts == nil {
		opts = &ScanOptions{}
	}

	segments := strings.Split(relSlash, "/")
	for _, seg := range segments[:len(segments)-1] {
		if defaultExcludeDirs[seg] {
			return false
		}
	}

	if excludedFile(relSlash, opts) {
		return false
	}
	if len(opts.IncludePatterns) > 0 && !matchesAny(relSlash, opts.IncludePatterns) {
		return false
	}
	return true
}

// excludedFile checks sensitive patterns, defaults, and user excludes
// against the source-relative path.
func excludedFile(relSlash string, opts *ScanOptions) bool {
	base := filepath.Base(relSlash)

	for _, pattern := range sensitiveFilePatterns {
		if doublestar.MatchUnvalidated(pattern, base) {
			return true
		}
	}

	for _, pattern := range defaultExcludeFiles {
		if doublestar.MatchUnvalidated(pattern, relSlash) {
			return true
		}
	}

	for _, pattern := range opts.ExcludePatterns {
		if doublestar.MatchUnvalidated(pattern, relSlash) {
			return true
		}
	}

	return false
}

// matchesAny reports whether relSlash matches at least one pattern.
func matchesAny(relSlash string, patterns []string) bool {
	for _, pattern := range patterns {
		if doublestar.MatchUnvalidated(pattern, relSlash) {
			return true
		}
	}
	return false
}

// isBinaryFile sniffs the first 512 bytes for null bytes.
// Verdicts are cached keyed by path, size, and mtime.
func (s *Scanner) isBinaryFile(path string, size, mtimeNano int64) bool {
	key := fmt.Sprintf("%s|%d|%d", path, size, mtimeNano)
	if verdict, ok := s.sniffCache.Get(key); ok {
		return verdict
	}

	verdict := sniffBinary(path)
	s.sniffCache.Add(key, verdict)
	return verdict
}

func sniffBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}

	return bytes.Contains(buf[:n], []byte{0})
}

// ReadFileText reads a file for indexing. Binary content yields
// ErrBinaryFile; invalid UTF-8 sequences are replaced with U+FFFD so a
// mostly-text file still indexes.
func ReadFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	sniffLen := len(data)
	if sniffLen > 512 {
		sniffLen = 512
	}
	if bytes.Contains(data[:sniffLen], []byte{0}) {
		return "", fmt.Errorf("%w: %s", ErrBinaryFile, path)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// InvalidateCache clears the binary-sniff cache.
func (s *Scanner) InvalidateCache() {
	s.sniffCache.Purge()
}

// defaultExcludeDirs are directory names never descended into.
var defaultExcludeDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".venv":        true,
	".ssh":         true,
	".aws":         true,
	".gcp":         true,
	".azure":       true,
}

// defaultExcludeFiles are always excluded.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitiveFilePatterns are never indexed, matched on the base name.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
