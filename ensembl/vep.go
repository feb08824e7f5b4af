package ensembl

// VEPAnalysis is the predicted effect of one variant
type VEPAnalysis struct {
	Input                  string                  `json:"input"`
	Strand                 int8                    `json:"strand"`
	AssemblyName           string                  `json:"assembly_name"`
	SeqRegionName          string                  `json:"seq_region_name"`
	MostSevereConsequence  string                  `json:"most_severe_consequence"`
	Start                  uint32                  `json:"start"`
	End                    uint32                  `json:"end,omitempty"`
	AlleleString           string                  `json:"allele_string"`
	TranscriptConsequences []TranscriptConsequence `json:"transcript_consequences"`
}

// TranscriptConsequence is the effect of a variant on one transcript
type TranscriptConsequence struct {
	TranscriptID     string   `json:"transcript_id"`
	Impact           string   `json:"impact"`
	GeneID           string   `json:"gene_id"`
	GeneSymbol       string   `json:"gene_symbol"`
	Biotype          string   `json:"biotype"`
	ConsequenceTerms []string `json:"consequence_terms"`
	Canonical        Flag     `json:"canonical"`
	NMD              string   `json:"nmd,omitempty"`

	// Set only for consequences inside a coding region
	*ProteinConsequence
}

// ProteinConsequence holds the coding-level fields of a consequence
type ProteinConsequence struct {
	HGVSp        string `json:"hgvsp"`
	HGVSc        string `json:"hgvsc"`
	ProteinStart uint32 `json:"protein_start"`
	ProteinEnd   uint32 `json:"protein_end"`
	Codons       string `json:"codons"`
	Exon         string `json:"exon"`
	AminoAcids   string `json:"amino_acids"`
	CDNAStart    uint32 `json:"cdna_start"`
	CDNAEnd      uint32 `json:"cdna_end"`
}

// Validate implements endpoint.Validator
func (v VEPAnalysis) Validate() error {
	if v.Input == "" {
		return errMissingID
	}
	return nil
}

// Canonical returns the consequence on the canonical transcript, if any
func (v *VEPAnalysis) Canonical() (TranscriptConsequence, bool) {
	for _, tc := range v.TranscriptConsequences {
		if tc.Canonical {
			return tc, true
		}
	}
	return TranscriptConsequence{}, false
}

// ForGene returns the consequences on transcripts of the given gene symbol
func (v *VEPAnalysis) ForGene(symbol string) []TranscriptConsequence {
	var out []TranscriptConsequence
	for _, tc := range v.TranscriptConsequences {
		if tc.GeneSymbol == symbol {
			out = append(out, tc)
		}
	}
	return out
}

// IsCoding reports whether the consequence carries protein-level fields
func (tc *TranscriptConsequence) IsCoding() bool {
	return tc.ProteinConsequence != nil
}
