package plan

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anicoll/bqloader"
	"gopkg.in/yaml.v3"
)

var ErrUnknownScheme = errors.New("unknown naming scheme")

// Plan is the declarative description of one batch: which scheme names the partitions,
// how each job parses its sources, and which partitions to load.
type Plan struct {
	Project  string                        `yaml:"project"`
	Scheme   string                        `yaml:"scheme"`
	Monthly  *bqloader.MonthlyCorpusScheme `yaml:"monthly,omitempty"`
	WebNGram *bqloader.WebNGramScheme      `yaml:"webngram,omitempty"`
	Schema   bqloader.Schema               `yaml:"schema"`
	Load     bqloader.LoadOptions          `yaml:"load"`
	Ranges   []bqloader.PartitionRange     `yaml:"ranges"`
}

// Default returns the built-in plan of scheme for project.
//
// The monthly plan covers the comment corpus from October 2007 to May 2015, grams 1 to 5.
// The webngram plan covers the unigram vocabulary and every shard of grams 2 to 5.
func Default(scheme, project string) (*Plan, error) {
	switch scheme {
	case bqloader.SchemeMonthlyCorpus:
		return &Plan{
			Project: project,
			Scheme:  scheme,
			Monthly: bqloader.DefaultMonthlyCorpusScheme(project),
			Schema:  bqloader.NGramSchema(),
			Load: bqloader.LoadOptions{
				Delimiter:        ",",
				MaxBadRecords:    bqloader.DefaultMaxBadRecords,
				WriteDisposition: bqloader.WriteAppend,
			},
			Ranges: []bqloader.PartitionRange{{
				Years:  bqloader.IntRange{From: 2007, To: 2015},
				Months: bqloader.IntRange{From: 1, To: 12},
				MonthsByYear: map[int]bqloader.IntRange{
					2007: {From: 10, To: 12},
					2015: {From: 1, To: 5},
				},
				Grams: bqloader.IntRange{From: 1, To: 5},
			}},
		}, nil
	case bqloader.SchemeWebNGram:
		web := bqloader.DefaultWebNGramScheme(project)
		web.ShardWidth = 4
		web.Shards = bqloader.IntRange{From: 0, To: 130}
		return &Plan{
			Project:  project,
			Scheme:   scheme,
			WebNGram: web,
			Schema:   bqloader.NGramSchema(),
			Load: bqloader.LoadOptions{
				Delimiter:        "\t",
				MaxBadRecords:    bqloader.DefaultMaxBadRecords,
				WriteDisposition: bqloader.WriteAppend,
			},
			Ranges: []bqloader.PartitionRange{
				{Grams: bqloader.Single(1)},
				{Grams: bqloader.Single(2), Shards: bqloader.IntRange{From: 0, To: 31}},
				{Grams: bqloader.Single(3), Shards: bqloader.IntRange{From: 0, To: 97}},
				{Grams: bqloader.Single(4), Shards: bqloader.IntRange{From: 0, To: 130}},
				{Grams: bqloader.Single(5), Shards: bqloader.IntRange{From: 0, To: 117}},
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
}

type header struct {
	Project string `yaml:"project"`
	Scheme  string `yaml:"scheme"`
}

// Load reads a YAML plan from r. The plan starts from Default(scheme, project) and the document
// overrides any field it sets; lists such as ranges and schema are replaced, not merged.
// A non-empty project overrides every project the document sets, the scheme sections included.
func Load(r io.Reader, project string) (*Plan, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	var h header
	if err := doc.Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode plan header: %w", err)
	}
	override := project != ""
	if !override {
		project = h.Project
	}

	p, err := Default(h.Scheme, project)
	if err != nil {
		return nil, err
	}
	if err := doc.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	p.setProject(project, override)

	return p, nil
}

// LoadFile reads the YAML plan stored at path.
func LoadFile(path, project string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan %s: %w", path, err)
	}
	defer f.Close()

	return Load(f, project)
}

// setProject sets the plan project. Scheme sections keep their own project unless override is set.
func (p *Plan) setProject(project string, override bool) {
	if project == "" {
		return
	}
	p.Project = project
	if p.Monthly != nil && (override || p.Monthly.Project == "") {
		p.Monthly.Project = project
	}
	if p.WebNGram != nil && (override || p.WebNGram.Project == "") {
		p.WebNGram.Project = project
	}
}

// Build validates the plan and returns the pieces a Loader needs.
func (p *Plan) Build() (bqloader.Scheme, bqloader.Schema, bqloader.LoadOptions, []bqloader.PartitionRange, error) {
	var scheme bqloader.Scheme
	switch p.Scheme {
	case bqloader.SchemeMonthlyCorpus:
		if p.Monthly == nil {
			return nil, nil, bqloader.LoadOptions{}, nil, fmt.Errorf("plan for %s has no monthly section", p.Scheme)
		}
		scheme = p.Monthly
	case bqloader.SchemeWebNGram:
		if p.WebNGram == nil {
			return nil, nil, bqloader.LoadOptions{}, nil, fmt.Errorf("plan for %s has no webngram section", p.Scheme)
		}
		scheme = p.WebNGram
	default:
		return nil, nil, bqloader.LoadOptions{}, nil, fmt.Errorf("%w: %q", ErrUnknownScheme, p.Scheme)
	}

	if p.Project == "" {
		return nil, nil, bqloader.LoadOptions{}, nil, errors.New("plan has no project")
	}
	if err := p.Schema.Validate(); err != nil {
		return nil, nil, bqloader.LoadOptions{}, nil, err
	}
	if len(p.Ranges) == 0 {
		return nil, nil, bqloader.LoadOptions{}, nil, errors.New("plan has no partition ranges")
	}

	return scheme, p.Schema, p.Load, p.Ranges, nil
}

// Marshal writes the plan as YAML.
func (p *Plan) Marshal(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return enc.Close()
}
