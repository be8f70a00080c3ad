package source

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lballaty/myragdb/internal/config"
)

// DefaultDiscoveryDepth bounds the walk below the discovery root when
// the caller does not pick a depth.
const DefaultDiscoveryDepth = 5

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".cache":       true,
}

// Discover walks root looking for version-controlled repositories
// (directories containing a .git marker) and returns catalogue
// candidates. The walk descends at most maxDepth directories below
// root (<= 0 means DefaultDiscoveryDepth). Discovery does not descend
// into a found repository, so nested checkouts become separate
// candidates only at the top level.
func Discover(root string, maxDepth int) ([]*Source, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultDiscoveryDepth
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var found []*Source

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if path != absRoot {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && name != ".") {
				return filepath.SkipDir
			}
		}

		if depth(absRoot, path) > maxDepth {
			return filepath.SkipDir
		}

		if !isRepoRoot(path) {
			return nil
		}

		src := &Source{
			ID:        DeriveID(KindRepository, path),
			Name:      filepath.Base(path),
			Kind:      KindRepository,
			Path:      path,
			RemoteURL: remoteURL(path),
			Priority:  config.PriorityMedium,
			Enabled:   true,
			AddedAt:   time.Now().UTC(),
		}
		if src.RemoteURL != "" {
			src.Name = repoNameFromURL(src.RemoteURL)
		}
		found = append(found, src)

		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

// isRepoRoot reports whether dir contains a .git marker.
// Both a .git directory and a .git file (worktrees, submodules) count.
func isRepoRoot(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// remoteURL reads the origin URL from .git/config, normalized.
// Returns empty when the repository has no remote.
func remoteURL(repoPath string) string {
	configPath := filepath.Join(repoPath, ".git", "config")

	data, err := os.ReadFile(configPath)
	if err != nil {
		// .git may be a file pointing at the real gitdir.
		gitdir := resolveGitdir(repoPath)
		if gitdir == "" {
			return ""
		}
		data, err = os.ReadFile(filepath.Join(gitdir, "config"))
		if err != nil {
			return ""
		}
	}

	return NormalizeCloneURL(originURL(data))
}

// resolveGitdir follows a "gitdir: path" pointer in a .git file.
func resolveGitdir(repoPath string) string {
	content, err := os.ReadFile(filepath.Join(repoPath, ".git"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir:") {
		return ""
	}
	gitdir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(repoPath, gitdir)
	}
	return gitdir
}

// originURL extracts the url of [remote "origin"] from git config bytes.
func originURL(data []byte) string {
	inOrigin := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			inOrigin = line == `[remote "origin"]`
			continue
		}
		if !inOrigin {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[0]) == "url" {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// NormalizeCloneURL canonicalizes a clone URL to host/path form:
// scheme, credentials, and a trailing .git suffix are stripped, the
// host is lowercased, and scp-style ssh addresses collapse to the same
// form as their https equivalents.
func NormalizeCloneURL(raw string) string {
	if raw == "" {
		return ""
	}

	url := raw
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://"} {
		if strings.HasPrefix(url, prefix) {
			url = strings.TrimPrefix(url, prefix)
			break
		}
	}

	// Drop user info (git@host, user:pass@host).
	if at := strings.LastIndex(url, "@"); at != -1 {
		url = url[at+1:]
	}

	// scp-style host:path becomes host/path.
	if colon := strings.Index(url, ":"); colon != -1 && !strings.Contains(url[:colon], "/") {
		url = url[:colon] + "/" + url[colon+1:]
	}

	url = strings.TrimSuffix(url, ".git")
	url = strings.TrimSuffix(url, "/")

	if slash := strings.Index(url, "/"); slash != -1 {
		url = strings.ToLower(url[:slash]) + url[slash:]
	} else {
		url = strings.ToLower(url)
	}

	return url
}

// repoNameFromURL derives a display name from a normalized clone URL.
func repoNameFromURL(normalized string) string {
	if idx := strings.LastIndex(normalized, "/"); idx != -1 && idx < len(normalized)-1 {
		return normalized[idx+1:]
	}
	return normalized
}
