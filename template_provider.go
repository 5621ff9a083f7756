package main

import (
	"embed"
	"encoding/json"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	templateIDPlaceholder    = `"$id"`
	templateValuePlaceholder = `$value`
	templateQueryField       = "value"
)

// ErrTemplateLoad is returned when a document template cannot be read or parsed.
var ErrTemplateLoad = errors.New("failed to load document template")

//go:embed templates/*.json
var embeddedTemplates embed.FS

// templateSource returns the templates shipped with the binary, or the
// templates found in dir when one is given.
func templateSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// TemplateProvider generates documents from a static Extended JSON template.
// The template holds the run identifier placeholder "$id" in a string position
// and the sequence placeholder $value in a numeric position, each exactly once.
type TemplateProvider struct {
	name     string
	template string
}

func NewTemplateProvider(name string, templates fs.FS, filename string) (*TemplateProvider, error) {
	raw, err := fs.ReadFile(templates, filename)
	if err != nil {
		return nil, errors.Wrapf(ErrTemplateLoad, "%s: %v", filename, err)
	}
	p := &TemplateProvider{name: name, template: string(raw)}

	for _, placeholder := range []string{templateIDPlaceholder, templateValuePlaceholder} {
		if n := strings.Count(p.template, placeholder); n != 1 {
			return nil, errors.Wrapf(ErrTemplateLoad, "%s: placeholder %s found %d times, want 1", filename, placeholder, n)
		}
	}
	if _, err := p.CreateDocument("template", 0); err != nil {
		return nil, errors.Wrapf(ErrTemplateLoad, "%s: %v", filename, err)
	}
	return p, nil
}

func (p *TemplateProvider) Name() string { return p.name }

func (p *TemplateProvider) CreateDocument(runID string, seq int) (bson.D, error) {
	quotedID, err := json.Marshal(runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to quote run identifier")
	}
	filled := strings.NewReplacer(
		templateIDPlaceholder, string(quotedID),
		templateValuePlaceholder, strconv.Itoa(seq),
	).Replace(p.template)

	var body bson.D
	if err := bson.UnmarshalExtJSON([]byte(filled), false, &body); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s document", p.name)
	}
	doc := make(bson.D, 0, len(body)+1)
	doc = append(doc, bson.E{Key: "_id", Value: documentID(runID, seq)})
	return append(doc, body...), nil
}

func (p *TemplateProvider) EqMatchingCriteria(runID string, seq int) bson.D {
	return eqFilter(runID, templateQueryField, seq)
}

func (p *TemplateProvider) RangeMatchingCriteria(_ string, seq int) bson.D {
	return rangeFilter(templateQueryField, seq)
}

func (p *TemplateProvider) Index() bson.D {
	return ascendingIndex(templateQueryField)
}
