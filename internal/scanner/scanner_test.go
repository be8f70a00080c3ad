package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func collect(t *testing.T, ch <-chan ScanResult) []*FileInfo {
	t.Helper()
	var files []*FileInfo
	for result := range ch {
		require.NoError(t, result.Error)
		files = append(files, result.File)
	}
	return files
}

func scanAll(t *testing.T, opts *ScanOptions) []*FileInfo {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	ch, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	return collect(t, ch)
}

func pathsOf(files []*FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestScan_DiscoversFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main"))
	writeFile(t, root, "docs/readme.md", []byte("# hello"))

	files := scanAll(t, &ScanOptions{RootDir: root})

	assert.ElementsMatch(t, []string{"main.go", "docs/readme.md"}, pathsOf(files))
}

func TestScan_DetectsLanguageAndContentType(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main"))
	writeFile(t, root, "notes.md", []byte("# notes"))
	writeFile(t, root, "conf.yaml", []byte("a: 1"))

	files := scanAll(t, &ScanOptions{RootDir: root})

	byPath := map[string]*FileInfo{}
	for _, f := range files {
		byPath[f.Path] = f
	}

	assert.Equal(t, "go", byPath["main.go"].Language)
	assert.Equal(t, ContentTypeCode, byPath["main.go"].ContentType)
	assert.Equal(t, ContentTypeMarkdown, byPath["notes.md"].ContentType)
	assert.Equal(t, ContentTypeConfig, byPath["conf.yaml"].ContentType)
}

func TestScan_IncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a"))
	writeFile(t, root, "sub/b.go", []byte("package b"))
	writeFile(t, root, "sub/c.py", []byte("pass"))

	files := scanAll(t, &ScanOptions{
		RootDir:         root,
		IncludePatterns: []string{"**/*.go"},
	})

	assert.ElementsMatch(t, []string{"a.go", "sub/b.go"}, pathsOf(files))
}

func TestScan_ExcludeGlobsPruneSubtrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", []byte("package keep"))
	writeFile(t, root, "generated/out.go", []byte("package out"))

	files := scanAll(t, &ScanOptions{
		RootDir:         root,
		ExcludePatterns: []string{"generated/**"},
	})

	assert.ElementsMatch(t, []string{"keep.go"}, pathsOf(files))
}

func TestScan_DefaultDirExclusions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main"))
	writeFile(t, root, "node_modules/pkg/index.js", []byte("x"))
	writeFile(t, root, ".git/config", []byte("[core]"))
	writeFile(t, root, "vendor/dep/dep.go", []byte("package dep"))

	files := scanAll(t, &ScanOptions{RootDir: root})

	assert.ElementsMatch(t, []string{"main.go"}, pathsOf(files))
}

func TestScan_SensitiveFilesNeverIndexed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.go", []byte("package ok"))
	writeFile(t, root, ".env", []byte("SECRET=1"))
	writeFile(t, root, "deploy/server.pem", []byte("-----BEGIN"))
	writeFile(t, root, "aws_credentials.txt", []byte("key"))

	files := scanAll(t, &ScanOptions{RootDir: root})

	assert.ElementsMatch(t, []string{"ok.go"}, pathsOf(files))
}

func TestScan_SizeCapIsInclusive(t *testing.T) {
	root := t.TempDir()
	atCap := make([]byte, 100)
	overCap := make([]byte, 101)
	for i := range atCap {
		atCap[i] = 'a'
	}
	for i := range overCap {
		overCap[i] = 'b'
	}
	writeFile(t, root, "at-cap.txt", atCap)
	writeFile(t, root, "over-cap.txt", overCap)

	files := scanAll(t, &ScanOptions{RootDir: root, MaxFileSize: 100})

	assert.ElementsMatch(t, []string{"at-cap.txt"}, pathsOf(files))
}

func TestScan_SkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "text.txt", []byte("hello"))
	writeFile(t, root, "blob.bin", []byte{0x7f, 0x45, 0x00, 0x01, 0x02})

	files := scanAll(t, &ScanOptions{RootDir: root})

	assert.ElementsMatch(t, []string{"text.txt"}, pathsOf(files))
}

func TestScan_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, filepath.Join("d", string(rune('a'+i%26))+".txt"), []byte("x"))
	}

	s, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Scan(ctx, &ScanOptions{RootDir: root})
	require.NoError(t, err)

	cancel()
	// Channel must close after cancellation; drain without hanging.
	for range ch {
	}
}

func TestScan_MissingRootFails(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), &ScanOptions{RootDir: "/nonexistent/root/dir"})
	assert.Error(t, err)
}

func TestReadFileText_PlainUTF8(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.txt", []byte("héllo wörld"))

	text, err := ReadFileText(path)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", text)
}

func TestReadFileText_InvalidUTF8Replaced(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.txt", []byte{'h', 'i', 0xff, 0xfe, '!'})

	text, err := ReadFileText(path)
	require.NoError(t, err)
	assert.Contains(t, text, "hi")
	assert.Contains(t, text, "�")
}

func TestReadFileText_BinaryRejected(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.bin", []byte{1, 2, 0, 4})

	_, err := ReadFileText(path)
	assert.ErrorIs(t, err, ErrBinaryFile)
}

func TestDetectKind_ExactNamesWin(t *testing.T) {
	lang, typ := DetectKind("docker/Dockerfile")
	assert.Equal(t, "dockerfile", lang)
	assert.Equal(t, ContentTypeConfig, typ)

	lang, typ = DetectKind("unknown.zzz")
	assert.Equal(t, "", lang)
	assert.Equal(t, ContentTypeText, typ)
}

func TestScan_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("*.gen.go\nout/\n"))
	writeFile(t, root, "main.go", []byte("package main"))
	writeFile(t, root, "schema.gen.go", []byte("package main"))
	writeFile(t, root, "out/report.md", []byte("# generated"))

	files := scanAll(t, &ScanOptions{RootDir: root, RespectGitignore: true})

	assert.ElementsMatch(t, []string{".gitignore", "main.go"}, pathsOf(files))
}

func TestScan_NestedGitignoreScopedToDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/.gitignore", []byte("*.tmp\n"))
	writeFile(t, root, "src/scratch.tmp", []byte("x"))
	writeFile(t, root, "src/keep.go", []byte("package src"))
	writeFile(t, root, "other/scratch.tmp", []byte("x"))

	files := scanAll(t, &ScanOptions{RootDir: root, RespectGitignore: true})

	assert.ElementsMatch(t,
		[]string{"src/.gitignore", "src/keep.go", "other/scratch.tmp"},
		pathsOf(files))
}

func TestScan_GitignoreOffByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("*.gen.go\n"))
	writeFile(t, root, "schema.gen.go", []byte("package main"))

	files := scanAll(t, &ScanOptions{RootDir: root})

	assert.Contains(t, pathsOf(files), "schema.gen.go")
}
