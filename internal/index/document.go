// Package index defines the document model shared by the keyword and
// vector indexes and the coordinator that feeds them.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// Document is one indexable file. The keyword index stores documents
// whole; the vector index stores their chunks.
type Document struct {
	// ID is derived from source and path, stable across re-indexing.
	ID string
	// SourceID identifies the owning source.
	SourceID string
	// SourceType is repository or directory.
	SourceType string
	// Repository is the owning source's name for repository sources,
	// empty for directory sources.
	Repository string
	// Path is relative to the source root, slash-separated.
	Path string
	// AbsPath is the absolute file path.
	AbsPath string
	// FileName is the base name of the file.
	FileName string
	// DirectoryPath is the slash-separated directory part of Path,
	// empty for files at the source root.
	DirectoryPath string
	// FolderName is the immediate parent directory's name, empty for
	// files at the source root.
	FolderName string
	// Extension is the lowercase file extension without the dot.
	Extension string
	// Language is the detected language identifier, may be empty.
	Language string
	// ContentType is code, markdown, text, or config.
	ContentType string
	// Size is the file size in bytes.
	Size int64
	// LastModified is the file's modification time.
	LastModified time.Time
	// Content is the full decoded text.
	Content string
}

// Chunk is one vector-indexed slice of a document.
type Chunk struct {
	// ID is DocID::Index.
	ID string
	// DocID is the owning document's ID.
	DocID string
	// Index is the zero-based chunk position.
	Index int
	// Content is the chunk text.
	Content string
}

// chunkIDSeparator joins document ID and chunk index. Double colon
// cannot appear in a hex document ID.
const chunkIDSeparator = "::"

// DocumentID derives the stable identifier for a file.
func DocumentID(sourceID, path string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + path))
	return hex.EncodeToString(sum[:])[:16]
}

// ChunkID derives the identifier for one chunk of a document.
func ChunkID(docID string, chunkIndex int) string {
	return fmt.Sprintf("%s%s%d", docID, chunkIDSeparator, chunkIndex)
}

// ParseChunkID splits a chunk ID back into document ID and index.
func ParseChunkID(chunkID string) (docID string, ok bool) {
	idx := strings.Index(chunkID, chunkIDSeparator)
	if idx < 0 {
		return "", false
	}
	return chunkID[:idx], true
}

// SplitPath derives the file name, directory path, and folder name
// from a slash-separated relative path. Files at the source root get
// an empty directory path and folder name.
func SplitPath(rel string) (fileName, dirPath, folderName string) {
	fileName = path.Base(rel)
	dirPath = path.Dir(rel)
	if dirPath == "." || dirPath == "/" {
		return fileName, "", ""
	}
	return fileName, dirPath, path.Base(dirPath)
}

// NormalizeExtension lowercases an extension and strips a leading dot
// so ".Go", "go", and ".go" all filter alike.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// PathExtension returns the normalized extension of rel, empty when
// the file has none.
func PathExtension(rel string) string {
	return NormalizeExtension(path.Ext(rel))
}

// HashContent returns the hex SHA-256 of raw file bytes, stored in the
// checkpoint for change detection.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
