// Package scanner discovers indexable files under a source root.
// It streams results over a channel, applying include/exclude globs,
// a size cap, sensitive-file patterns, and a binary sniff.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType classifies a file for the keyword index.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path        string      // Relative to the source root, slash-separated
	AbsPath     string      // Absolute path
	Size        int64       // File size in bytes
	ModTime     time.Time   // Last modification time
	ContentType ContentType // code, markdown, text, config
	Language    string      // go, typescript, python, ...
}

// ScanOptions configures a scan of one source root.
type ScanOptions struct {
	// RootDir is the source root directory to scan.
	RootDir string

	// IncludePatterns holds doublestar globs; empty includes all files.
	IncludePatterns []string

	// ExcludePatterns holds doublestar globs applied after includes.
	ExcludePatterns []string

	// MaxFileSize is the inclusive size cap in bytes (0 = 10 MiB).
	MaxFileSize int64

	// FollowSymlinks enables following symbolic links (default false).
	FollowSymlinks bool

	// RespectGitignore loads .gitignore files during the walk, the
	// root one plus any nested ones, and skips what they ignore.
	// Set for repository sources.
	RespectGitignore bool
}

// ScanResult is one element of the scanner stream.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the inclusive per-file size cap (10 MiB).
const DefaultMaxFileSize = 10 * 1024 * 1024

type fileKind struct {
	lang string
	typ  ContentType
}

// fileKinds maps extensions (and a few exact names) to language and
// content type.
var fileKinds = map[string]fileKind{
	".go": {"go", ContentTypeCode},

	".js":  {"javascript", ContentTypeCode},
	".jsx": {"javascript", ContentTypeCode},
	".mjs": {"javascript", ContentTypeCode},
	".ts":  {"typescript", ContentTypeCode},
	".tsx": {"typescript", ContentTypeCode},

	".py":  {"python", ContentTypeCode},
	".pyi": {"python", ContentTypeCode},

	".rb":    {"ruby", ContentTypeCode},
	".rs":    {"rust", ContentTypeCode},
	".java":  {"java", ContentTypeCode},
	".kt":    {"kotlin", ContentTypeCode},
	".c":     {"c", ContentTypeCode},
	".h":     {"c", ContentTypeCode},
	".cpp":   {"cpp", ContentTypeCode},
	".hpp":   {"cpp", ContentTypeCode},
	".cc":    {"cpp", ContentTypeCode},
	".cs":    {"csharp", ContentTypeCode},
	".swift": {"swift", ContentTypeCode},
	".php":   {"php", ContentTypeCode},
	".scala": {"scala", ContentTypeCode},
	".ex":    {"elixir", ContentTypeCode},
	".exs":   {"elixir", ContentTypeCode},
	".erl":   {"erlang", ContentTypeCode},
	".hs":    {"haskell", ContentTypeCode},
	".lua":   {"lua", ContentTypeCode},
	".sql":   {"sql", ContentTypeCode},

	".sh":   {"shell", ContentTypeCode},
	".bash": {"shell", ContentTypeCode},
	".zsh":  {"shell", ContentTypeCode},

	".html":   {"html", ContentTypeCode},
	".css":    {"css", ContentTypeCode},
	".scss":   {"scss", ContentTypeCode},
	".vue":    {"vue", ContentTypeCode},
	".svelte": {"svelte", ContentTypeCode},
	".proto":  {"protobuf", ContentTypeCode},

	".md":       {"markdown", ContentTypeMarkdown},
	".mdx":      {"markdown", ContentTypeMarkdown},
	".markdown": {"markdown", ContentTypeMarkdown},
	".rst":      {"rst", ContentTypeMarkdown},
	".txt":      {"text", ContentTypeText},

	".json":  {"json", ContentTypeConfig},
	".yaml":  {"yaml", ContentTypeConfig},
	".yml":   {"yaml", ContentTypeConfig},
	".toml":  {"toml", ContentTypeConfig},
	".xml":   {"xml", ContentTypeConfig},
	".ini":   {"ini", ContentTypeConfig},
	".env":   {"config", ContentTypeConfig},

	"Dockerfile": {"dockerfile", ContentTypeConfig},
	"Makefile":   {"makefile", ContentTypeConfig},
	"makefile":   {"makefile", ContentTypeConfig},
}

// DetectKind returns the language and content type for a path.
// Exact filename matches (Dockerfile, Makefile) win over extensions.
func DetectKind(path string) (language string, typ ContentType) {
	base := filepath.Base(path)
	if k, ok := fileKinds[base]; ok {
		return k.lang, k.typ
	}

	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := fileKinds[ext]; ok {
		return k.lang, k.typ
	}

	return "", ContentTypeText
}
