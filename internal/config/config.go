// Package config assembles the run-wide Options value every other package
// reads from. Options is built once, either from struct literals at the CLI
// boundary or from an optional on-disk run-profile file, and is never
// mutated once the search begins. Run-profile files are
// github.com/tailscale/hujson (JSON-with-comments), so a checked-in
// sensitivity preset can carry inline documentation without a second
// hand-rolled parser.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/chain"
	"github.com/alignkit/alignkit/internal/gapped"
	"github.com/alignkit/alignkit/internal/hitbuffer"
	"github.com/alignkit/alignkit/internal/seedmatch"
	"github.com/alignkit/alignkit/internal/ungapped"
)

// Sensitivity selects one of the fixed shape-table presets
// ("faster .. ultra-sensitive").
type Sensitivity int

const (
	Faster Sensitivity = iota
	Fast
	Default
	Sensitive
	MoreSensitive
	VerySensitive
	UltraSensitive
)

func (s Sensitivity) String() string {
	switch s {
	case Faster:
		return "faster"
	case Fast:
		return "fast"
	case Sensitive:
		return "sensitive"
	case MoreSensitive:
		return "more-sensitive"
	case VerySensitive:
		return "very-sensitive"
	case UltraSensitive:
		return "ultra-sensitive"
	default:
		return "default"
	}
}

// CompBasedStats mirrors alphabet.CompBasedStats at the options boundary so
// callers (and run-profile files) don't need to import internal/alphabet
// just to name a mode.
type CompBasedStats = alphabet.CompBasedStats

// OutputFormat enumerates the `-f/--outfmt` values the core must be able
// to produce an HspValues-shaped record for; the formatters themselves live
// outside the core.
type OutputFormat string

const (
	FormatPairwise OutputFormat = "0"
	FormatXML      OutputFormat = "5"
	FormatTabular  OutputFormat = "6"
	FormatDAA      OutputFormat = "100"
	FormatSAM      OutputFormat = "101"
	FormatTaxon    OutputFormat = "102"
	FormatPAF      OutputFormat = "103"
	FormatJSON     OutputFormat = "104"
	FormatNull     OutputFormat = "null"
)

// Options is the immutable, front-loaded configuration shared by every
// worker for the duration of one run. It is assembled once by
// the out-of-scope CLI (or a test) and never mutated thereafter.
type Options struct {
	// Database / query selection.
	DBPath    string
	QueryPath string
	OutPath   string

	// Concurrency and resource bounds.
	Threads        int
	BlockSizeBytes int64 // reference/query block memory budget
	IndexChunks    int   // seed-index partition count
	TmpDir         string
	TimeoutSeconds int
	IgnoreWarnings bool

	// Scoring.
	Matrix    *alphabet.Matrix
	CompBased CompBasedStats
	CBS       alphabet.CBSParams

	// Sensitivity preset driving the active shape table.
	Sensitivity Sensitivity

	// Translated-search options (blastx/tblastn/tblastx).
	QueryGeneticCode int
	FrameShift       int32
	Strand           string // "plus", "minus", or "both"

	// Masking.
	Masking     string // "seg", "tantan", or "0"
	SoftMasking bool

	// Stage parameters, one struct per pipeline stage.
	SeedMatch seedmatch.Params
	Ungapped  ungapped.Params
	Gapped    gapped.Params
	HitBuffer hitbuffer.Params
	Filters   chain.Filters

	// Output format selection.
	OutFormat  OutputFormat
	HspValues  gapped.HspValues
	AllTitles  bool // --salltitles
	AllSeqIDs  bool // --sallseqid
}

// DefaultOptions returns the baseline Options for the "default" sensitivity
// preset over protein (blastp) search: the single struct literal every run
// starts from before CLI overrides or a run-profile file are applied.
func DefaultOptions() *Options {
	m := alphabet.BLOSUM62()
	return &Options{
		Threads:          1,
		BlockSizeBytes:   4 << 30,
		IndexChunks:      16,
		TmpDir:           "",
		Matrix:           m,
		CompBased:        alphabet.CBSHitYuAltschul,
		CBS:              alphabet.DefaultCBSParams,
		Sensitivity:      Default,
		QueryGeneticCode: 1,
		Strand:           "both",
		Masking:          "seg",
		SoftMasking:      true,
		SeedMatch:        seedmatch.DefaultParams,
		Ungapped: ungapped.Params{
			XDrop:       20,
			WindowLeft:  32,
			WindowRight: 32,
			MinRawScore: 20,
		},
		Gapped: gapped.Params{
			Band:     32,
			Lane8Max: 127, // try the narrow lane first; overflow re-runs wide
		},
		HitBuffer: hitbuffer.Params{
			Shards:       16,
			BudgetPerBin: 1 << 20,
		},
		Filters: chain.Filters{
			MaxTargetSeqs:       500,
			RankFactor:          1,
			MinUngappedScore:    20,
			InnerCullingOverlap: 0,
		},
		OutFormat: FormatTabular,
	}
}

// ApplySensitivity widens the ungapped/seed-match thresholds as sensitivity
// increases. The shape tables themselves are compiled constants chosen per
// level; this only tunes the thresholds this package owns.
func (o *Options) ApplySensitivity(s Sensitivity) {
	o.Sensitivity = s
	switch s {
	case Faster:
		o.SeedMatch.MinIdentities = 16
		o.Ungapped.MinRawScore = 30
	case Fast:
		o.SeedMatch.MinIdentities = 14
		o.Ungapped.MinRawScore = 25
	case Sensitive:
		o.SeedMatch.MinIdentities = 10
		o.Ungapped.MinRawScore = 16
	case MoreSensitive:
		o.SeedMatch.MinIdentities = 8
		o.Ungapped.MinRawScore = 14
	case VerySensitive, UltraSensitive:
		o.SeedMatch.MinIdentities = 6
		o.Ungapped.MinRawScore = 12
	default:
		o.SeedMatch.MinIdentities = 12
		o.Ungapped.MinRawScore = 20
	}
}

// profile is the JSON (hujson) shape of an on-disk run-profile file: a
// partial overlay applied on top of DefaultOptions, so a checked-in preset
// only needs to name the fields it overrides.
type profile struct {
	Threads        *int     `json:"threads,omitempty"`
	BlockSizeBytes *int64   `json:"blockSizeBytes,omitempty"`
	IndexChunks    *int     `json:"indexChunks,omitempty"`
	TmpDir         *string  `json:"tmpDir,omitempty"`
	TimeoutSeconds *int     `json:"timeoutSeconds,omitempty"`
	IgnoreWarnings *bool    `json:"ignoreWarnings,omitempty"`
	GapOpen        *int32   `json:"gapOpen,omitempty"`
	GapExtend      *int32   `json:"gapExtend,omitempty"`
	Sensitivity    *string  `json:"sensitivity,omitempty"`
	Masking        *string  `json:"masking,omitempty"`
	SoftMasking    *bool    `json:"softMasking,omitempty"`
	MaxTargetSeqs  *int     `json:"maxTargetSeqs,omitempty"`
	TopPercent     *float64 `json:"topPercent,omitempty"`
	MinIdentityPct *float64 `json:"minIdentityPct,omitempty"`
	MinQueryCover  *float64 `json:"minQueryCover,omitempty"`
	OutFormat      *string  `json:"outFormat,omitempty"`
}

// LoadProfile reads a hujson (JSON-with-comments) run-profile file and
// overlays its fields onto base. base is not mutated; the returned Options
// is a shallow copy with overridden fields applied.
func LoadProfile(base *Options, data []byte) (*Options, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("config: parsing run-profile: %w", err)
	}
	var p profile
	if err := json.Unmarshal(std, &p); err != nil {
		return nil, fmt.Errorf("config: decoding run-profile: %w", err)
	}

	out := *base
	if (p.GapOpen != nil || p.GapExtend != nil) && base.Matrix != nil {
		m := *base.Matrix
		out.Matrix = &m
	}
	if p.Threads != nil {
		out.Threads = *p.Threads
	}
	if p.BlockSizeBytes != nil {
		out.BlockSizeBytes = *p.BlockSizeBytes
	}
	if p.IndexChunks != nil {
		out.IndexChunks = *p.IndexChunks
	}
	if p.TmpDir != nil {
		out.TmpDir = *p.TmpDir
	}
	if p.TimeoutSeconds != nil {
		out.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.IgnoreWarnings != nil {
		out.IgnoreWarnings = *p.IgnoreWarnings
	}
	if p.GapOpen != nil {
		out.Matrix.GapOpen = *p.GapOpen
	}
	if p.GapExtend != nil {
		out.Matrix.GapExtend = *p.GapExtend
	}
	if p.Sensitivity != nil {
		sens, err := parseSensitivity(*p.Sensitivity)
		if err != nil {
			return nil, err
		}
		out.ApplySensitivity(sens)
	}
	if p.Masking != nil {
		out.Masking = *p.Masking
	}
	if p.SoftMasking != nil {
		out.SoftMasking = *p.SoftMasking
	}
	if p.MaxTargetSeqs != nil {
		out.Filters.MaxTargetSeqs = *p.MaxTargetSeqs
	}
	if p.TopPercent != nil {
		out.Filters.TopPercent = *p.TopPercent
	}
	if p.MinIdentityPct != nil {
		out.Filters.MinIdentityPct = *p.MinIdentityPct
	}
	if p.MinQueryCover != nil {
		out.Filters.MinQueryCover = *p.MinQueryCover
	}
	if p.OutFormat != nil {
		out.OutFormat = OutputFormat(*p.OutFormat)
	}
	return &out, nil
}

func parseSensitivity(s string) (Sensitivity, error) {
	switch s {
	case "faster":
		return Faster, nil
	case "fast":
		return Fast, nil
	case "default", "":
		return Default, nil
	case "sensitive":
		return Sensitive, nil
	case "more-sensitive":
		return MoreSensitive, nil
	case "very-sensitive":
		return VerySensitive, nil
	case "ultra-sensitive":
		return UltraSensitive, nil
	default:
		return 0, fmt.Errorf("config: unknown sensitivity level %q", s)
	}
}
