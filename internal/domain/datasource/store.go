package datasource

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for policy store operations.
var (
	// ErrPolicyNotFound is returned when no policy exists for an id or resource.
	ErrPolicyNotFound = errors.New("access policy not found")
	// ErrDuplicateResource is returned when a second policy targets the same resource.
	ErrDuplicateResource = errors.New("resource already has an access policy")
	// ErrInvalidPolicy is returned for structurally unusable policies.
	ErrInvalidPolicy = errors.New("invalid access policy")
	// ErrInvalidAccessLevel is returned for unknown access level strings.
	ErrInvalidAccessLevel = errors.New("invalid access level")
)

// Reader is the read side used on every request. Implementations must not
// cache across calls; policy edits take effect immediately.
type Reader interface {
	// ListEnabled returns all policies with is_enabled set.
	ListEnabled(ctx context.Context) ([]AccessPolicy, error)
	// GetByResource returns the policy for a resource id regardless of its
	// enabled flag. Returns ErrPolicyNotFound if none exists.
	GetByResource(ctx context.Context, resourceID string) (*AccessPolicy, error)
}

// Store adds the administrative operations.
type Store interface {
	Reader
	// List returns every policy ordered by table name.
	List(ctx context.Context) ([]AccessPolicy, error)
	// Get returns a policy by id.
	Get(ctx context.Context, id string) (*AccessPolicy, error)
	// Save creates or replaces a policy. An empty ID creates a new one.
	Save(ctx context.Context, p *AccessPolicy) error
	// Delete removes a policy by id.
	Delete(ctx context.Context, id string) error
}

// seedFile is the on-disk layout of a policy seed file.
type seedFile struct {
	Datasources []AccessPolicy `yaml:"datasources"`
}

// LoadSeed reads access policies from a YAML seed file.
func LoadSeed(path string) ([]AccessPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data and applies defaults to every policy.
func ParseSeed(data []byte) ([]AccessPolicy, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range seed.Datasources {
		seed.Datasources[i].ApplyDefaults()
		if err := seed.Datasources[i].Check(); err != nil {
			return nil, fmt.Errorf("datasources[%d]: %w", i, err)
		}
	}
	return seed.Datasources, nil
}
