package componentgraphdb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedRecord indicates an ingestion record that fails validation.
// Malformed records are skipped and reported, never partially ingested.
var ErrMalformedRecord = errors.New("malformed component record")

// PropertyRecord describes one configurable property of a component.
type PropertyRecord struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Default  string   `json:"default,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// GuidelineRecord describes a usage guideline for a component.
type GuidelineRecord struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`

	// Kind categorizes the guideline, e.g. "do", "dont", "best_practice".
	Kind string `json:"kind,omitempty"`
}

// CodeExampleRecord is a code snippet demonstrating component usage.
type CodeExampleRecord struct {
	Title    string `json:"title,omitempty"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ComponentRecord is the structured ingestion input produced by the
// extraction collaborator. The core never parses HTML; it only consumes
// this record.
type ComponentRecord struct {
	// ID is the stable component identifier. If empty it is derived from
	// the canonicalized name and category.
	ID string `json:"id,omitempty"`

	Name        string              `json:"name"`
	Category    string              `json:"category,omitempty"`
	Description string              `json:"description,omitempty"`
	Purpose     string              `json:"purpose,omitempty"`
	Properties  []PropertyRecord    `json:"properties,omitempty"`
	Guidelines  []GuidelineRecord   `json:"guidelines,omitempty"`
	Examples    []CodeExampleRecord `json:"code_examples,omitempty"`

	// DesignTokens names referenced design primitives.
	DesignTokens []string `json:"design_tokens,omitempty"`

	// Dependencies lists component IDs this component depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// RawContent is the canonical raw-content blob from extraction,
	// folded into the content hash.
	RawContent string `json:"raw_content,omitempty"`
}

// ComponentID derives the stable component identifier from the
// canonicalized name and category. Re-ingesting the same logical
// component always yields the same id.
func ComponentID(name, category string) string {
	canonical := canonicalToken(name) + "\x00" + canonicalToken(category)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

func canonicalToken(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// ResolvedID returns the record's explicit ID or derives one.
func (r *ComponentRecord) ResolvedID() string {
	if r.ID != "" {
		return r.ID
	}
	return ComponentID(r.Name, r.Category)
}

// Validate checks the record against the closed entity vocabulary and
// structural requirements. All failures wrap ErrMalformedRecord.
func (r *ComponentRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrMalformedRecord)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: component name is required", ErrMalformedRecord)
	}

	id := r.ResolvedID()
	for _, prop := range r.Properties {
		if strings.TrimSpace(prop.Name) == "" {
			return fmt.Errorf("%w: property of %q missing name", ErrMalformedRecord, r.Name)
		}
	}
	for _, g := range r.Guidelines {
		if strings.TrimSpace(g.Title) == "" {
			return fmt.Errorf("%w: guideline of %q missing title", ErrMalformedRecord, r.Name)
		}
	}
	for _, ex := range r.Examples {
		if strings.TrimSpace(ex.Code) == "" {
			return fmt.Errorf("%w: empty code example on %q", ErrMalformedRecord, r.Name)
		}
	}
	for _, dep := range r.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("%w: empty dependency id on %q", ErrMalformedRecord, r.Name)
		}
		if dep == id {
			return fmt.Errorf("%w: component %q depends on itself", ErrMalformedRecord, r.Name)
		}
	}
	for _, token := range r.DesignTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("%w: empty design token on %q", ErrMalformedRecord, r.Name)
		}
	}
	return nil
}

// CanonicalHash computes the content hash as a pure function of the
// record's canonical content. Collections are sorted before hashing so
// two semantically identical records hash identically regardless of
// field order in the extraction run.
func (r *ComponentRecord) CanonicalHash() string {
	canon := r.canonicalize()
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *ComponentRecord) canonicalize() *ComponentRecord {
	canon := &ComponentRecord{
		ID:          r.ResolvedID(),
		Name:        canonicalToken(r.Name),
		Category:    canonicalToken(r.Category),
		Description: strings.TrimSpace(r.Description),
		Purpose:     strings.TrimSpace(r.Purpose),
		RawContent:  r.RawContent,
	}

	canon.Properties = append([]PropertyRecord(nil), r.Properties...)
	for i := range canon.Properties {
		canon.Properties[i].Options = sortedCopy(canon.Properties[i].Options)
	}
	sort.Slice(canon.Properties, func(i, j int) bool {
		return canon.Properties[i].Name < canon.Properties[j].Name
	})

	canon.Guidelines = append([]GuidelineRecord(nil), r.Guidelines...)
	sort.Slice(canon.Guidelines, func(i, j int) bool {
		return canon.Guidelines[i].Title < canon.Guidelines[j].Title
	})

	canon.Examples = append([]CodeExampleRecord(nil), r.Examples...)
	sort.Slice(canon.Examples, func(i, j int) bool {
		if canon.Examples[i].Language != canon.Examples[j].Language {
			return canon.Examples[i].Language < canon.Examples[j].Language
		}
		return canon.Examples[i].Code < canon.Examples[j].Code
	})

	canon.DesignTokens = sortedCopy(r.DesignTokens)
	canon.Dependencies = sortedCopy(r.Dependencies)
	return canon
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

// SubNodeID derives the stable identifier for an owned sub-node from its
// natural key. Unchanged sub-nodes keep their identity across upserts.
func SubNodeID(componentID string, nodeType NodeType, naturalKey string) string {
	canonical := componentID + "\x00" + string(nodeType) + "\x00" + canonicalToken(naturalKey)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// TokenNodeID derives the identifier of a shared design token node.
func TokenNodeID(name string) string {
	sum := sha256.Sum256([]byte("design_token\x00" + canonicalToken(name)))
	return hex.EncodeToString(sum[:16])
}
