package bqloader

import (
	"fmt"
	"strings"
)

// TableRef identifies a destination table.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// ID returns the dataset-qualified table identifier, dataset.table.
func (t TableRef) ID() string {
	return t.Dataset + "." + t.Table
}

func (t TableRef) String() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// Naming is the output of a Scheme for one partition.
type Naming struct {
	SourceURIs  []string
	Destination TableRef
}

// Scheme maps a partition key to its source objects and destination table.
// Implementations must be pure: the same key always yields the same Naming,
// and two distinct valid keys never share a destination.
type Scheme interface {
	// Name identifies the scheme in logs, ledgers and errors.
	Name() string
	// NamePartition returns the naming for key, or an *InvalidPartitionError when key is outside the scheme's domain.
	NamePartition(key PartitionKey) (Naming, error)
}

const (
	SchemeMonthlyCorpus = "monthly"
	SchemeWebNGram      = "webngram"
)

// MonthlyCorpusScheme names the monthly comment corpus, one object per (year, month, gram).
//
// Source: {Scheme}://{Bucket}/{Path}/{year}/{FilePrefix}{year}-{MM}-{FileSuffix}{gram}
// Destination: {Dataset}.{TablePrefix}_{year}_{MM}_{gram}
type MonthlyCorpusScheme struct {
	URIScheme   string   `yaml:"uri_scheme"`
	Bucket      string   `yaml:"bucket"`
	Path        string   `yaml:"path"`
	FilePrefix  string   `yaml:"file_prefix"`
	FileSuffix  string   `yaml:"file_suffix"`
	Project     string   `yaml:"project"`
	Dataset     string   `yaml:"dataset"`
	TablePrefix string   `yaml:"table_prefix"`
	Years       IntRange `yaml:"years"`
	Grams       IntRange `yaml:"grams"`
}

// DefaultMonthlyCorpusScheme returns the layout of the monthly comment n-gram corpus.
func DefaultMonthlyCorpusScheme(project string) *MonthlyCorpusScheme {
	return &MonthlyCorpusScheme{
		URIScheme:   "gs",
		Bucket:      "reddit-corpus",
		Path:        "GRAM",
		FilePrefix:  "RC_",
		FileSuffix:  "comments-grams",
		Project:     project,
		Dataset:     "NGram",
		TablePrefix: "GRAM",
		Years:       IntRange{From: 2007, To: 2015},
		Grams:       IntRange{From: 1, To: 5},
	}
}

func (s *MonthlyCorpusScheme) Name() string {
	return SchemeMonthlyCorpus
}

func (s *MonthlyCorpusScheme) NamePartition(key PartitionKey) (Naming, error) {
	if err := s.validate(key); err != nil {
		return Naming{}, err
	}

	uri := fmt.Sprintf("%s://%s/%s%d/%s%d-%02d-%s%d",
		s.URIScheme, s.Bucket, pathPrefix(s.Path), key.Year,
		s.FilePrefix, key.Year, key.Month, s.FileSuffix, key.Gram)

	return Naming{
		SourceURIs: []string{uri},
		Destination: TableRef{
			Project: s.Project,
			Dataset: s.Dataset,
			Table:   fmt.Sprintf("%s_%d_%02d_%d", s.TablePrefix, key.Year, key.Month, key.Gram),
		},
	}, nil
}

func (s *MonthlyCorpusScheme) validate(key PartitionKey) error {
	invalid := func(format string, args ...any) error {
		return &InvalidPartitionError{Scheme: s.Name(), Key: key, Reason: fmt.Sprintf(format, args...)}
	}
	if !validMonth(key.Month) {
		return invalid("month %d not in 1..12", key.Month)
	}
	if !s.Years.Contains(key.Year) {
		return invalid("year %d outside %s", key.Year, s.Years)
	}
	if !s.Grams.Contains(key.Gram) {
		return invalid("gram %d outside %s", key.Gram, s.Grams)
	}
	if key.Shard != 0 {
		return invalid("shard is not part of this scheme")
	}
	return nil
}

// WebNGramScheme names the web-scale n-gram corpus, one object per (gram, shard).
// The unigram vocabulary is a single unsharded object.
//
// Source: {Scheme}://{Bucket}/{Path}/{gram}gms/{gram}gm-{shard}
// or {Scheme}://{VocabBucket}/{Path}/1gm/vocab for gram 1.
// Destination: {Dataset}.{TablePrefix}_{gram}_{shard}
type WebNGramScheme struct {
	URIScheme   string   `yaml:"uri_scheme"`
	Bucket      string   `yaml:"bucket"`
	VocabBucket string   `yaml:"vocab_bucket"`
	Path        string   `yaml:"path"`
	ShardWidth  int      `yaml:"shard_width"`
	Project     string   `yaml:"project"`
	Dataset     string   `yaml:"dataset"`
	TablePrefix string   `yaml:"table_prefix"`
	Grams       IntRange `yaml:"grams"`
	Shards      IntRange `yaml:"shards"`
}

// DefaultWebNGramScheme returns the layout of the web-scale n-gram corpus.
func DefaultWebNGramScheme(project string) *WebNGramScheme {
	return &WebNGramScheme{
		URIScheme:   "gs",
		Bucket:      "ngram-dalhousie1",
		VocabBucket: "reddit-corpus",
		Path:        "ngram-dalhousie",
		Project:     project,
		Dataset:     "NGram",
		TablePrefix: "GRAM_WEB_1T",
		Grams:       IntRange{From: 1, To: 5},
		Shards:      IntRange{From: 0, To: 131},
	}
}

func (s *WebNGramScheme) Name() string {
	return SchemeWebNGram
}

func (s *WebNGramScheme) NamePartition(key PartitionKey) (Naming, error) {
	if err := s.validate(key); err != nil {
		return Naming{}, err
	}

	shard := fmt.Sprintf("%0*d", s.ShardWidth, key.Shard)

	var uri string
	if key.Gram == 1 {
		uri = fmt.Sprintf("%s://%s/%s1gm/vocab", s.URIScheme, s.VocabBucket, pathPrefix(s.Path))
	} else {
		uri = fmt.Sprintf("%s://%s/%s%dgms/%dgm-%s", s.URIScheme, s.Bucket, pathPrefix(s.Path), key.Gram, key.Gram, shard)
	}

	return Naming{
		SourceURIs: []string{uri},
		Destination: TableRef{
			Project: s.Project,
			Dataset: s.Dataset,
			Table:   fmt.Sprintf("%s_%d_%s", s.TablePrefix, key.Gram, shard),
		},
	}, nil
}

func (s *WebNGramScheme) validate(key PartitionKey) error {
	invalid := func(format string, args ...any) error {
		return &InvalidPartitionError{Scheme: s.Name(), Key: key, Reason: fmt.Sprintf(format, args...)}
	}
	if key.Year != 0 || key.Month != 0 {
		return invalid("year and month are not part of this scheme")
	}
	if !s.Grams.Contains(key.Gram) {
		return invalid("gram %d outside %s", key.Gram, s.Grams)
	}
	if key.Gram == 1 {
		if key.Shard != 0 {
			return invalid("the unigram vocabulary is not sharded")
		}
		return nil
	}
	if !s.Shards.Contains(key.Shard) {
		return invalid("shard %d outside %s", key.Shard, s.Shards)
	}
	return nil
}

func validMonth(month int) bool {
	return month >= 1 && month <= 12
}

// pathPrefix returns p with surrounding slashes trimmed and a single trailing slash, or "" for an empty path.
func pathPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

var (
	_ Scheme = (*MonthlyCorpusScheme)(nil)
	_ Scheme = (*WebNGramScheme)(nil)
)
