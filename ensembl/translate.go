package ensembl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TranslationType classifies the outcome of Translate
type TranslationType int

const (
	TranslationNormal  TranslationType = iota // stop codon in the last exon or near it
	TranslationNMD                            // premature stop, target of nonsense-mediated decay
	TranslationNonstop                        // no stop codon
)

func (t TranslationType) String() string {
	switch t {
	case TranslationNormal:
		return "normal"
	case TranslationNMD:
		return "nmd"
	case TranslationNonstop:
		return "nonstop"
	default:
		return fmt.Sprintf("TranslationType(%d)", int(t))
	}
}

// NMDDistance is how far upstream of the last exon junction a stop codon
// must be to trigger nonsense-mediated decay
const NMDDistance = 50

// ProteinTranslation is the result of translating a masked sequence
type ProteinTranslation struct {
	Protein      string
	StopIndex    int // index just past the stop codon in the input, -1 if none
	LastEJCIndex int // index of the last exon junction in the input, -1 if none
	Type         TranslationType
}

// ErrInvalidCodon is returned for codons containing anything but ACGT
var ErrInvalidCodon = errors.New("not a recognised codon")

// An exon base, an intron, then the final exon up to the end
var lastEJC = regexp.MustCompile(`.+([A-Z][a-z]+[A-Z]+)$`)

// Standard genetic code indexed by base order TCAG
const (
	codonBases = "TCAG"
	aminoAcids = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"
)

// Translate reads the upper-case bases of a feature-masked sequence as
// codons from the start and stops at the first stop codon. Lower-case
// introns are skipped but still count toward the returned indexes.
func Translate(seq string) (ProteinTranslation, error) {
	res := ProteinTranslation{StopIndex: -1, LastEJCIndex: -1, Type: TranslationNonstop}
	if m := lastEJC.FindStringSubmatchIndex(seq); m != nil {
		res.LastEJCIndex = m[2]
	}

	protein := make([]byte, 0, len(seq)/3+1)
	var codon [3]byte
	n := 0
	for i := 0; i < len(seq); i++ {
		if !isUpper(seq[i]) {
			continue
		}
		codon[n] = seq[i]
		n++
		if n < 3 {
			continue
		}
		n = 0

		aa, err := translateCodon(codon)
		if err != nil {
			return res, err
		}
		protein = append(protein, aa)
		if aa == '*' {
			res.StopIndex = i + 1
			res.Type = TranslationNormal
			if res.LastEJCIndex >= 0 && res.StopIndex+NMDDistance < res.LastEJCIndex {
				res.Type = TranslationNMD
			}
			break
		}
	}
	res.Protein = string(protein)
	return res, nil
}

func translateCodon(codon [3]byte) (byte, error) {
	idx := 0
	for _, b := range codon {
		if b == 'U' {
			b = 'T'
		}
		k := strings.IndexByte(codonBases, b)
		if k < 0 {
			return 0, fmt.Errorf("%s: %w", codon[:], ErrInvalidCodon)
		}
		idx = idx*4 + k
	}
	return aminoAcids[idx], nil
}

