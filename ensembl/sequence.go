package ensembl

import (
	"errors"
	"fmt"
	"strings"
)

// Sequence is a /sequence/id result. With mask_feature set, exons are upper
// case and introns or UTRs lower case.
type Sequence struct {
	Query string `json:"query"`
	ID    string `json:"id"`
	Desc  string `json:"desc,omitempty"`
	Seq   string `json:"seq"`
}

// Validate implements endpoint.Validator
func (s Sequence) Validate() error {
	if s.Query == "" {
		return errMissingID
	}
	if s.Seq == "" {
		return fmt.Errorf("sequence %s: empty", s.Query)
	}
	return nil
}

// Exons splits the sequence into runs of the same letter case and returns
// each run upper-cased
func (s *Sequence) Exons() []string {
	return caseRuns(s.Seq)
}

func caseRuns(seq string) []string {
	if seq == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 1; i < len(seq); i++ {
		if isUpper(seq[i]) != isUpper(seq[start]) {
			out = append(out, strings.ToUpper(seq[start:i]))
			start = i
		}
	}
	return append(out, strings.ToUpper(seq[start:]))
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// ErrInvalidBase is returned for characters other than ACGT in either case
var ErrInvalidBase = errors.New("not a nucleotide base")

// ReverseComplement returns the reverse complement of seq, keeping case
func ReverseComplement(seq string) (string, error) {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, ok := complement(seq[i])
		if !ok {
			return "", fmt.Errorf("%q at %d: %w", seq[i], i, ErrInvalidBase)
		}
		out[len(seq)-1-i] = c
	}
	return string(out), nil
}

func complement(b byte) (byte, bool) {
	switch b {
	case 'A':
		return 'T', true
	case 'T':
		return 'A', true
	case 'C':
		return 'G', true
	case 'G':
		return 'C', true
	case 'a':
		return 't', true
	case 't':
		return 'a', true
	case 'c':
		return 'g', true
	case 'g':
		return 'c', true
	}
	return 0, false
}
