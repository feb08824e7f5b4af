// Package ensembl provides result types and bulk adapters for the POST
// endpoints of the Ensembl REST API (https://rest.ensembl.org).
//
// Each constructor returns an adapter ready to pass to getter.New:
//
//	g, err := getter.New(ensembl.VEP(), getter.DefaultConfig())
//	analysis, ok := g.Client().Fetch(ctx, "ENST00000237014.8:c.148G>A")
package ensembl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"bulkgetter/endpoint"
)

// Endpoint paths
const (
	PathVEP      = "/vep/human/hgvs"
	PathLookup   = "/lookup/id"
	PathSequence = "/sequence/id"
)

// Batch limits documented by the service
const (
	MaxPostSize       = 50
	MaxLookupPostSize = 1000
)

var errMissingID = errors.New("response element has no identifier")

// VEP returns an adapter for variant effect predictions keyed by HGVS notation
func VEP() *endpoint.JSON[VEPAnalysis] {
	return &endpoint.JSON[VEPAnalysis]{
		Endpoint: PathVEP,
		IDsKey:   "hgvs_notations",
		Params:   map[string]any{"hgvs": 1, "numbers": 1, "canonical": 1, "NMD": 1},
		IDField:  "input",
		MaxBatch: MaxPostSize,
	}
}

// Lookup returns an adapter for transcript lookups by stable ID, with exons,
// UTRs and translation expanded
func Lookup() *endpoint.JSON[Transcript] {
	return &endpoint.JSON[Transcript]{
		Endpoint: PathLookup,
		IDsKey:   "ids",
		Params:   map[string]any{"expand": 1, "utr": 1},
		IDField:  "id",
		MaxBatch: MaxLookupPostSize,
	}
}

// CDS returns an adapter for coding sequences, with UTRs masked
func CDS() *endpoint.JSON[Sequence] {
	return sequenceAdapter(SequenceCDS)
}

// CDNA returns an adapter for cDNA sequences
func CDNA() *endpoint.JSON[Sequence] {
	return sequenceAdapter(SequenceCDNA)
}

// Genomic returns an adapter for genomic sequences. Introns come back in
// lower case.
func Genomic() *endpoint.JSON[Sequence] {
	return sequenceAdapter(SequenceGenomic)
}

// SequenceType is the "type" parameter of the sequence endpoint
type SequenceType string

const (
	SequenceCDS     SequenceType = "cds"
	SequenceCDNA    SequenceType = "cdna"
	SequenceGenomic SequenceType = "genomic"
)

func sequenceAdapter(t SequenceType) *endpoint.JSON[Sequence] {
	return &endpoint.JSON[Sequence]{
		Endpoint: PathSequence,
		IDsKey:   "ids",
		Params:   map[string]any{"type": string(t), "mask_feature": 1},
		IDField:  "query",
		MaxBatch: MaxPostSize,
	}
}

// Flag is a boolean the service encodes as 0/1
type Flag bool

// UnmarshalJSON accepts numbers, booleans and null
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false", "0":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag must be 0/1 or a boolean, got %s", data)
	}
	*f = n != 0
	return nil
}

// MarshalJSON writes 0 or 1
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}
