package ensembl

import (
	"errors"
	"fmt"
)

// Transcript is a /lookup/id result expanded with exons, UTRs and translation
type Transcript struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Start       uint32       `json:"start"`
	End         uint32       `json:"end"`
	Strand      int8         `json:"strand"`
	Translation *Translation `json:"Translation,omitempty"`
	UTRs        []UTR        `json:"UTR"`
	Exons       []Exon       `json:"Exon"`
	Canonical   Flag         `json:"is_canonical"`
	Species     string       `json:"species"`
	Biotype     string       `json:"biotype"`
}

// UTRType tells five prime from three prime UTRs
type UTRType string

const (
	FivePrimeUTR  UTRType = "five_prime_utr"
	ThreePrimeUTR UTRType = "three_prime_utr"
)

// UnmarshalText rejects unknown UTR types
func (t *UTRType) UnmarshalText(text []byte) error {
	switch v := UTRType(text); v {
	case FivePrimeUTR, ThreePrimeUTR:
		*t = v
		return nil
	default:
		return fmt.Errorf("unknown UTR type %q", text)
	}
}

// UTR is an untranslated region of a transcript
type UTR struct {
	ID     string  `json:"id"`
	Parent string  `json:"Parent"`
	Start  uint32  `json:"start"`
	End    uint32  `json:"end"`
	Strand int8    `json:"strand"`
	Type   UTRType `json:"type"`
}

// Exon is one exon of a transcript
type Exon struct {
	ID     string `json:"id"`
	Start  uint32 `json:"start"`
	End    uint32 `json:"end"`
	Strand int8   `json:"strand"`
}

// Translation is the protein product of a coding transcript
type Translation struct {
	ID     string `json:"id"`
	Start  uint32 `json:"start"`
	End    uint32 `json:"end"`
	Length uint32 `json:"length"`
}

var errBadStrand = errors.New("strand must be 1 or -1")

// Validate implements endpoint.Validator
func (t Transcript) Validate() error {
	if t.ID == "" {
		return errMissingID
	}
	if t.Strand != 1 && t.Strand != -1 {
		return fmt.Errorf("transcript %s: %w", t.ID, errBadStrand)
	}
	if t.End < t.Start {
		return fmt.Errorf("transcript %s: end %d before start %d", t.ID, t.End, t.Start)
	}
	return nil
}

// IsCoding reports whether the transcript has a translation
func (t *Transcript) IsCoding() bool {
	return t.Translation != nil
}

// UTRsOfType returns the transcript's UTRs of one type
func (t *Transcript) UTRsOfType(typ UTRType) []UTR {
	var out []UTR
	for _, u := range t.UTRs {
		if u.Type == typ {
			out = append(out, u)
		}
	}
	return out
}

// CodingOffset is the index of the first coding base in the transcript's
// genomic sequence, read in transcript direction
func (t *Transcript) CodingOffset() (int, bool) {
	if t.Translation == nil {
		return 0, false
	}
	if t.Strand == -1 {
		return int(t.End) - int(t.Translation.End), true
	}
	return int(t.Translation.Start) - int(t.Start), true
}
