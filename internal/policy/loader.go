package policy

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Document is the file and wire form of a Policy.
type Document struct {
	AgentID                string                   `yaml:"agent_id" json:"agent_id"`
	AllowedTools           []string                 `yaml:"allowed_tools" json:"allowed_tools"`
	AllowedOperations      []Operation              `yaml:"allowed_operations" json:"allowed_operations"`
	ForbiddenOperations    []Operation              `yaml:"forbidden_operations" json:"forbidden_operations"`
	ApprovalRequirements   map[string]ApprovalLevel `yaml:"approval_requirements,omitempty" json:"approval_requirements,omitempty"`
	MaxToolCallsPerSession int                      `yaml:"max_tool_calls_per_session" json:"max_tool_calls_per_session"`
	RateLimitSeconds       float64                  `yaml:"rate_limit_seconds" json:"rate_limit_seconds"`
}

// maxRateLimitSeconds is the largest interval a time.Duration can carry.
var maxRateLimitSeconds = math.MaxInt64 / float64(time.Second)

type fileDocument struct {
	Policies []Document `yaml:"policies"`
}

func (d Document) Policy() (Policy, error) {
	if d.RateLimitSeconds < 0 || math.IsNaN(d.RateLimitSeconds) || math.IsInf(d.RateLimitSeconds, 0) {
		return Policy{}, fmt.Errorf("%w: rate_limit_seconds must be a non-negative number", ErrInvalidPolicy)
	}
	if d.RateLimitSeconds >= maxRateLimitSeconds {
		return Policy{}, fmt.Errorf("%w: rate_limit_seconds must be below %.0f", ErrInvalidPolicy, maxRateLimitSeconds)
	}
	p := Policy{
		AgentID:                d.AgentID,
		AllowedTools:           d.AllowedTools,
		AllowedOperations:      d.AllowedOperations,
		ForbiddenOperations:    d.ForbiddenOperations,
		ApprovalRequirements:   d.ApprovalRequirements,
		MaxToolCallsPerSession: d.MaxToolCallsPerSession,
		RateLimit:              time.Duration(d.RateLimitSeconds * float64(time.Second)),
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p.Clone(), nil
}

func DocumentFrom(p Policy) Document {
	c := p.Clone()
	return Document{
		AgentID:                c.AgentID,
		AllowedTools:           c.AllowedTools,
		AllowedOperations:      c.AllowedOperations,
		ForbiddenOperations:    c.ForbiddenOperations,
		ApprovalRequirements:   c.ApprovalRequirements,
		MaxToolCallsPerSession: c.MaxToolCallsPerSession,
		RateLimitSeconds:       c.RateLimit.Seconds(),
	}
}

// Parse decodes a YAML policy file. Both a top-level `policies:` list and a
// single bare policy document are accepted.
func Parse(data []byte) ([]Policy, error) {
	var file fileDocument
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	docs := file.Policies
	if len(docs) == 0 {
		var single Document
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		if single.AgentID == "" {
			return nil, fmt.Errorf("%w: no policies in document", ErrInvalidPolicy)
		}
		docs = []Document{single}
	}

	out := make([]Policy, 0, len(docs))
	for i, d := range docs {
		p, err := d.Policy()
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func LoadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	policies, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return policies, nil
}

// LoadDir reads every policy file in dir. Files that fail to parse are
// skipped with a warning; a directory with no usable policy is an error.
func LoadDir(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isPolicyFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var policies []Policy
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("failed to load policy file")
			continue
		}
		policies = append(policies, loaded...)
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no valid policy files found in directory: %s", dir)
	}
	return policies, nil
}

// LoadInto applies every policy in dir to the store and returns how many were applied.
func LoadInto(s *Store, dir string) (int, error) {
	policies, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, p := range policies {
		if err := s.Put(p); err != nil {
			return 0, err
		}
	}
	return len(policies), nil
}

func isPolicyFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
