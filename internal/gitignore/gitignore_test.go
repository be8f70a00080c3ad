package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_BasicWildcard(t *testing.T) {
	m := New()
	m.AddPattern("*.log")

	assert.True(t, m.Match("error.log", false))
	assert.True(t, m.Match("logs/debug.log", false))
	assert.False(t, m.Match("error.log.txt", false))
	assert.False(t, m.Match("main.go", false))
}

func TestMatch_NegationReincludes(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("!important.log")

	assert.True(t, m.Match("error.log", false))
	assert.False(t, m.Match("important.log", false))
}

func TestMatch_AnchoredPattern(t *testing.T) {
	m := New()
	m.AddPattern("/build")

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("src/build", true))
}

func TestMatch_InternalSlashAnchors(t *testing.T) {
	m := New()
	m.AddPattern("doc/frotz")

	assert.True(t, m.Match("doc/frotz", true))
	assert.False(t, m.Match("a/doc/frotz", true))
}

func TestMatch_DirectoryOnly(t *testing.T) {
	m := New()
	m.AddPattern("temp/")

	assert.True(t, m.Match("temp", true))
	assert.False(t, m.Match("temp", false))
	// Files under an ignored directory are ignored.
	assert.True(t, m.Match("temp/cache.bin", false))
	assert.True(t, m.Match("nested/temp/cache.bin", false))
}

func TestMatch_DoubleStar(t *testing.T) {
	m := New()
	m.AddPattern("**/generated.go")
	m.AddPattern("logs/**")

	assert.True(t, m.Match("generated.go", false))
	assert.True(t, m.Match("deep/pkg/generated.go", false))
	assert.True(t, m.Match("logs/2024/app.log", false))
}

func TestMatch_QuestionMark(t *testing.T) {
	m := New()
	m.AddPattern("file?.txt")

	assert.True(t, m.Match("file1.txt", false))
	assert.False(t, m.Match("file12.txt", false))
	assert.False(t, m.Match("dir/a.txt", false))
}

func TestMatch_CommentsAndBlanksSkipped(t *testing.T) {
	m := New()
	m.AddPattern("# a comment")
	m.AddPattern("   ")
	m.AddPattern("")

	assert.False(t, m.Match("# a comment", false))
	assert.Empty(t, m.rules)
}

func TestMatch_MalformedClassDropped(t *testing.T) {
	m := New()
	m.AddPattern("[z-a]")
	m.AddPattern("*.log")

	// The unparsable rule is dropped, never matched, and never panics.
	require.Len(t, m.rules, 1)
	assert.False(t, m.Match("z", false))
	assert.True(t, m.Match("error.log", false))
}

func TestMatch_EscapedHash(t *testing.T) {
	m := New()
	m.AddPattern(`\#literal`)

	assert.True(t, m.Match("#literal", false))
}

func TestMatch_NestedBaseScopesRules(t *testing.T) {
	m := New()
	m.AddPatternWithBase("*.tmp", "src")

	assert.True(t, m.Match("src/scratch.tmp", false))
	assert.False(t, m.Match("scratch.tmp", false))
	assert.False(t, m.Match("docs/scratch.tmp", false))
}

func TestAddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	content := "*.log\n# comment\n!keep.log\nbuild/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("app.log", false))
	assert.False(t, m.Match("keep.log", false))
	assert.True(t, m.Match("build", true))
	assert.True(t, m.Match("build/out.bin", false))
}

func TestAddFromFile_Missing(t *testing.T) {
	m := New()
	err := m.AddFromFile(filepath.Join(t.TempDir(), "absent"), "")
	assert.Error(t, err)
}

func TestMatch_EmptyMatcherIgnoresNothing(t *testing.T) {
	m := New()
	assert.False(t, m.Match("anything.go", false))
	assert.False(t, m.Match("dir", true))
}
