package main

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// AllProviders selects every registered document provider.
const AllProviders = "all"

// ErrUnknownProvider is returned when a provider name is not in the registry.
var ErrUnknownProvider = errors.New("unknown document provider")

// DocumentProvider deterministically generates workload documents together
// with the predicates and index that exercise them.
//
// CreateDocument must be a pure function of runID and seq: query trials rebuild
// predicates for documents written earlier without reading them back.
type DocumentProvider interface {
	Name() string
	CreateDocument(runID string, seq int) (bson.D, error)
	// EqMatchingCriteria matches exactly the document CreateDocument(runID, seq) returns.
	EqMatchingCriteria(runID string, seq int) bson.D
	// RangeMatchingCriteria matches every document whose query field is greater than the one for seq.
	RangeMatchingCriteria(runID string, seq int) bson.D
	Index() bson.D
}

// documentID is the identity of the document generated for (runID, seq).
// Distinct run identifiers never collide even when sequence numbers overlap.
func documentID(runID string, seq int) string {
	return fmt.Sprintf("%s-%d", runID, seq)
}

type providerFactory struct {
	name  string
	build func(templates fs.FS) (DocumentProvider, error)
}

// providerRegistry lists the providers in the order "all" runs them.
var providerRegistry = []providerFactory{
	{name: "StringValue", build: func(fs.FS) (DocumentProvider, error) {
		return NewStringValueProvider(defaultStringLength), nil
	}},
	{name: "IntegerValue", build: func(fs.FS) (DocumentProvider, error) {
		return NewIntegerValueProvider(), nil
	}},
	{name: "Nested", build: func(fs.FS) (DocumentProvider, error) {
		return NewNestedProvider(), nil
	}},
	{name: "Template50KB", build: func(templates fs.FS) (DocumentProvider, error) {
		return NewTemplateProvider("Template50KB", templates, "50kb.json")
	}},
	{name: "Template1MB", build: func(templates fs.FS) (DocumentProvider, error) {
		return NewTemplateProvider("Template1MB", templates, "1mb.json")
	}},
}

// ProviderNames returns the registered provider names.
func ProviderNames() []string {
	names := make([]string, 0, len(providerRegistry))
	for _, f := range providerRegistry {
		names = append(names, f.name)
	}
	return names
}

// SelectProviders builds the providers named by selector, matched case-insensitively.
//
// A single named provider that fails to build is returned as an error. With
// "all", providers that fail are skipped and reported in the returned
// multierror next to the ones that were built.
func SelectProviders(selector string, templates fs.FS) ([]DocumentProvider, error) {
	if strings.EqualFold(selector, AllProviders) {
		var result *multierror.Error
		providers := make([]DocumentProvider, 0, len(providerRegistry))
		for _, f := range providerRegistry {
			p, err := f.build(templates)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			providers = append(providers, p)
		}
		return providers, result.ErrorOrNil()
	}

	for _, f := range providerRegistry {
		if strings.EqualFold(selector, f.name) {
			p, err := f.build(templates)
			if err != nil {
				return nil, err
			}
			return []DocumentProvider{p}, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownProvider, "%q (known: %s, %s)",
		selector, strings.Join(ProviderNames(), ", "), AllProviders)
}
