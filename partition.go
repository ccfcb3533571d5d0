package bqloader

import (
	"fmt"
	"iter"
)

// PartitionKey identifies one unit of source data. Each Scheme reads only the fields it is keyed by.
type PartitionKey struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Gram  int `json:"gram,omitempty"`
	Shard int `json:"shard,omitempty"`
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("year=%d month=%02d gram=%d shard=%d", k.Year, k.Month, k.Gram, k.Shard)
}

// IntRange is an inclusive range of integers. The zero value is the single value 0.
type IntRange struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
}

// Single returns a range holding only v.
func Single(v int) IntRange {
	return IntRange{From: v, To: v}
}

// Contains returns true if v lies within the range.
func (r IntRange) Contains(v int) bool {
	return v >= r.From && v <= r.To
}

// Len returns the number of values in the range, 0 when To < From.
func (r IntRange) Len() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

func (r IntRange) String() string {
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d..%d", r.From, r.To)
}

// PartitionRange declares a set of partition keys. Months applies to every year unless
// MonthsByYear carries bounds for that year.
type PartitionRange struct {
	Years        IntRange         `yaml:"years" json:"years"`
	Months       IntRange         `yaml:"months" json:"months"`
	MonthsByYear map[int]IntRange `yaml:"months_by_year,omitempty" json:"months_by_year,omitempty"`
	Grams        IntRange         `yaml:"grams" json:"grams"`
	Shards       IntRange         `yaml:"shards" json:"shards"`
}

func (r PartitionRange) monthsFor(year int) IntRange {
	if m, ok := r.MonthsByYear[year]; ok {
		return m
	}
	return r.Months
}

// Len returns the number of keys the range enumerates.
func (r PartitionRange) Len() int {
	n := 0
	for y := r.Years.From; y <= r.Years.To; y++ {
		n += r.monthsFor(y).Len()
	}
	return n * r.Grams.Len() * r.Shards.Len()
}

// Enumerate yields every key of the given ranges in list order, then year, month, gram and shard ascending.
func Enumerate(ranges []PartitionRange) iter.Seq[PartitionKey] {
	return func(yield func(PartitionKey) bool) {
		for _, r := range ranges {
			for y := r.Years.From; y <= r.Years.To; y++ {
				months := r.monthsFor(y)
				for m := months.From; m <= months.To; m++ {
					for g := r.Grams.From; g <= r.Grams.To; g++ {
						for s := r.Shards.From; s <= r.Shards.To; s++ {
							if !yield(PartitionKey{Year: y, Month: m, Gram: g, Shard: s}) {
								return
							}
						}
					}
				}
			}
		}
	}
}

// CountKeys returns the number of keys Enumerate yields for ranges.
func CountKeys(ranges []PartitionRange) int {
	n := 0
	for _, r := range ranges {
		n += r.Len()
	}
	return n
}
