// Package source manages the catalogue of indexed sources.
//
// A source is either a version-controlled repository or a plain
// directory. Sources carry a stable identifier, a priority used to
// re-weight search results, and include/exclude globs consumed by the
// scanner.
package source

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lballaty/myragdb/internal/config"
)

// Kind distinguishes repository sources from plain directories.
type Kind string

const (
	KindRepository Kind = "repository"
	KindDirectory  Kind = "directory"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindRepository || k == KindDirectory
}

// idNamespace is the UUIDv5 namespace for source identifiers.
// IDs are deterministic over (kind, absolute path) so a source keeps
// its identity across restarts and config rewrites.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("myragdb://source"))

// DeriveID returns the stable identifier for a source.
func DeriveID(kind Kind, absPath string) string {
	return uuid.NewSHA1(idNamespace, []byte(string(kind)+":"+filepath.Clean(absPath))).String()
}

// Source is one entry in the catalogue.
type Source struct {
	// ID is the stable identifier derived from kind and path.
	ID string
	// Name is the human-readable identifier used in queries and stats.
	Name string
	// Kind is repository or directory.
	Kind Kind
	// Path is the absolute source root.
	Path string
	// RemoteURL is the normalized clone URL for repositories, empty
	// for directories.
	RemoteURL string
	// Priority re-weights fused scores (high 1.5, medium 1.0, low 0.7).
	Priority config.Priority
	// Include holds doublestar globs; empty includes everything.
	Include []string
	// Exclude holds doublestar globs applied after Include.
	Exclude []string
	// Enabled toggles indexing and watching without losing state.
	Enabled bool
	// AddedAt records when the source entered the catalogue.
	AddedAt time.Time
}

// EffectivePriority treats an unset priority as medium.
func (s *Source) EffectivePriority() config.Priority {
	if s.Priority.Valid() {
		return s.Priority
	}
	return config.PriorityMedium
}

// Weight returns the score multiplier for the source's priority.
func (s *Source) Weight() float64 {
	return s.EffectivePriority().Weight()
}

// FromConfig converts a declarative source block into a Source.
func FromConfig(sc config.SourceConfig, kind Kind) *Source {
	abs := filepath.Clean(sc.Path)
	return &Source{
		ID:       DeriveID(kind, abs),
		Name:     sc.Name,
		Kind:     kind,
		Path:     abs,
		Priority: sc.Priority,
		Include:  sc.Include,
		Exclude:  sc.Exclude,
		Enabled:  sc.IsEnabled(),
		AddedAt:  time.Now().UTC(),
	}
}
