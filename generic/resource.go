/*
resource.go - Kind registration and lookup

PURPOSE:
  Provides a registry for domain packages to register the kinds of
  contribution they recognize. This enables parsing from storage/JSON back
  to concrete types while keeping this package domain-agnostic.

HOW IT WORKS:
  1. Domain packages define their Kind implementations
  2. Domain packages register them on init() or explicit registration
  3. Factory/API use the registry to parse and list recognized kinds

USAGE:
  // In rewards/types.go
  func init() {
      generic.RegisterKind(TypeCodeCommit)
      generic.RegisterKind(TypeCodeReview)
  }

  // In the API
  kind := generic.LookupKind("code_review") // returns rewards.TypeCodeReview

SEE ALSO:
  - rewards/types.go: Contribution type implementation
  - factory/program.go: Registers program-defined kinds
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// KIND REGISTRY
// =============================================================================

// Kind identifies a recognized variant of a domain enumeration.
type Kind interface {
	// KindID returns the unique identifier for this kind.
	KindID() string

	// KindDomain returns which domain this kind belongs to.
	KindDomain() string
}

var (
	kindRegistry = make(map[string]Kind)
	registryMu   sync.RWMutex
)

// RegisterKind adds a kind to the global registry.
// Call this from domain package init() functions.
func RegisterKind(k Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kindRegistry[k.KindID()] = k
}

// LookupKind finds a registered kind by ID.
// Returns nil if not found.
func LookupKind(id string) Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return kindRegistry[id]
}

// MustLookupKind finds a registered kind or panics.
// Use in tests or when you're certain the kind exists.
func MustLookupKind(id string) Kind {
	k := LookupKind(id)
	if k == nil {
		panic(fmt.Sprintf("kind not registered: %s", id))
	}
	return k
}

// ListKindsByDomain returns kinds for a specific domain, sorted by ID.
func ListKindsByDomain(domain string) []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var result []Kind
	for _, k := range kindRegistry {
		if k.KindDomain() == domain {
			result = append(result, k)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].KindID() < result[j].KindID() })
	return result
}
