// Command alignkit drives the core seed-and-extend pipeline end to end:
// load a reference block, index it, load a query block against it, then
// dispatch (query-range, partition, shape) seeding units and per-query
// chaining units across the block scheduler's worker pool, emitting
// surviving Hsps through the output sink in input order.
//
// CLI parsing and output formatting are explicitly out of scope for the
// core; this command is a thin driver rather than a full reimplementation
// of the out-of-scope `blastp`/`blastx`/`blastn` subcommand surface — it
// wires the flags the core's Options actually consumes and writes a single
// tabular record per Hsp (outfmt 6), which is all the core's own record
// shape can drive without an out-of-scope formatter. It loads one
// reference block per invocation; queries are split into letter-budget
// ranges so seeding units stay memory-bounded.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/spf13/pflag"

	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/block"
	"github.com/alignkit/alignkit/internal/chain"
	"github.com/alignkit/alignkit/internal/config"
	"github.com/alignkit/alignkit/internal/dictionary"
	"github.com/alignkit/alignkit/internal/errs"
	"github.com/alignkit/alignkit/internal/hitbuffer"
	"github.com/alignkit/alignkit/internal/scheduler"
	"github.com/alignkit/alignkit/internal/search"
	"github.com/alignkit/alignkit/internal/shape"
	"github.com/alignkit/alignkit/internal/sink"
)

func init() {
	log.SetFlags(0)
	log.SetPrefix("alignkit: ")
}

var (
	flagDB          = pflag.StringP("db", "d", "", "reference database FASTA path")
	flagQuery       = pflag.StringP("query", "q", "", "query FASTA path")
	flagOut         = pflag.StringP("out", "o", "", "output path (default: stdout)")
	flagThreads     = pflag.IntP("threads", "p", 1, "worker thread count")
	flagMaxTargets  = pflag.IntP("max-target-seqs", "k", 500, "--max-target-seqs")
	flagTop         = pflag.Float64("top", 0, "--top P (0 disables)")
	flagEValue      = pflag.Float64P("evalue", "e", 10.0, "--evalue cutoff")
	flagMinScore    = pflag.Int32("min-score", 0, "--min-score (0 disables)")
	flagMinID       = pflag.Float64("id", 0, "--id minimum percent identity")
	flagQueryCover  = pflag.Float64("query-cover", 0, "--query-cover percent")
	flagSubjectCov  = pflag.Float64("subject-cover", 0, "--subject-cover percent")
	flagIndexChunks = pflag.IntP("index-chunks", "c", 16, "--index-chunks")
	flagMatrix      = pflag.String("matrix", "BLOSUM62", "substitution matrix (BLOSUM62 only)")
	flagCompBased   = pflag.Int("comp-based-stats", 1, "--comp-based-stats (0=off, 1=yu-altschul, 2=full-matrix)")
	flagSensitivity = pflag.String("sensitivity", "default", "faster|fast|default|sensitive|more-sensitive|very-sensitive|ultra-sensitive")
	flagMasking     = pflag.String("masking", "seg", "seg|tantan|0")
	flagNoSelfHits  = pflag.Bool("no-self-hits", false, "--no-self-hits")
	flagMaxHsps     = pflag.Int("max-hsps", 0, "--max-hsps (0 disables)")
	flagOutFmt      = pflag.StringP("outfmt", "f", "6", "output format (6/tab only; other formats live outside the core)")
	flagTimeout     = pflag.Int("timeout", 0, "wall-clock timeout in seconds (0 disables)")
	flagIgnoreWarn  = pflag.Bool("ignore-warnings", false, "--ignore-warnings")
	flagTmpDir      = pflag.String("tmpdir", "", "--tmpdir for spill files (default: /dev/shm when roomy, else the OS tempdir)")
	flagCPUProfile  = pflag.String("cpuprofile", "", "write CPU profile to this path")
)

func main() {
	pflag.Parse()
	if *flagCPUProfile != "" {
		f, err := os.Create(*flagCPUProfile)
		if err != nil {
			log.Fatalf("Error: %s", err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := run(); err != nil {
		log.Fatalf("Error: %s", err)
	}
}

func run() error {
	if *flagDB == "" || *flagQuery == "" {
		return errs.New(errs.InvalidArgument, "both -d/--db and -q/--query are required")
	}
	if *flagOutFmt != string(config.FormatTabular) {
		return errs.New(errs.InvalidArgument, "output format %q is out of scope for the core; only outfmt 6 (tabular) is built in", *flagOutFmt)
	}
	if *flagMatrix != "BLOSUM62" {
		return errs.New(errs.InvalidArgument, "matrix %q is not available (only BLOSUM62 is wired)", *flagMatrix)
	}

	opts := config.DefaultOptions()
	opts.DBPath = *flagDB
	opts.QueryPath = *flagQuery
	opts.OutPath = *flagOut
	opts.Threads = *flagThreads
	opts.IndexChunks = *flagIndexChunks
	opts.TimeoutSeconds = *flagTimeout
	opts.IgnoreWarnings = *flagIgnoreWarn
	opts.Masking = *flagMasking
	opts.Filters.MaxTargetSeqs = *flagMaxTargets
	opts.Filters.TopPercent = *flagTop
	opts.Filters.MinUngappedScore = *flagMinScore
	opts.Filters.MinIdentityPct = *flagMinID
	opts.Filters.MinQueryCover = *flagQueryCover
	opts.Filters.MinSubjectCover = *flagSubjectCov
	opts.Filters.NoSelfHits = *flagNoSelfHits
	opts.Filters.MaxHsps = *flagMaxHsps

	switch *flagCompBased {
	case 0:
		opts.CompBased = alphabet.CBSOff
	case 1:
		opts.CompBased = alphabet.CBSHitYuAltschul
	case 2:
		opts.CompBased = alphabet.CBSFullMatrix
	default:
		return errs.New(errs.InvalidArgument, "unknown --comp-based-stats %d", *flagCompBased)
	}
	opts.CBS.Mode = opts.CompBased

	sens, err := parseSensitivity(*flagSensitivity)
	if err != nil {
		return err
	}
	opts.ApplySensitivity(sens)
	opts.BlockSizeBytes = scheduler.MemoryBudget(opts.BlockSizeBytes)

	shapes, err := shape.SensitivityShapes(opts.Sensitivity.String())
	if err != nil {
		return fmt.Errorf("alignkit: building shape table: %w", err)
	}
	reduction := shape.Murphy10

	ka, ok := alphabet.Lookup(opts.Matrix.Name, opts.Matrix.GapOpen, opts.Matrix.GapExtend)
	if !ok {
		return errs.New(errs.IdealStatParamCalc, "no Karlin-Altschul parameters for %s/%d/%d", opts.Matrix.Name, opts.Matrix.GapOpen, opts.Matrix.GapExtend)
	}

	dbFile, err := os.Open(opts.DBPath)
	if err != nil {
		return errs.New(errs.InvalidDatabase, "opening database: %s", err)
	}
	defer dbFile.Close()

	refBlk, warnings, err := block.Load(dbFile, 0, nil)
	if err != nil {
		return errs.New(errs.InvalidDatabase, "loading reference block: %s", err)
	}
	logWarnings(warnings)
	if refBlk.Seqs.Len() == 0 {
		return errs.New(errs.InvalidDatabase, "database %q contains no sequences", opts.DBPath)
	}
	if err := refBlk.SoftMask(maskAlgorithm(opts.Masking)); err != nil {
		return fmt.Errorf("alignkit: masking database: %w", err)
	}

	queryFile, err := os.Open(opts.QueryPath)
	if err != nil {
		return errs.New(errs.InvalidArgument, "opening query file: %s", err)
	}
	defer queryFile.Close()

	queryBlk, warnings, err := block.Load(queryFile, 0, nil)
	if err != nil {
		return errs.New(errs.InvalidArgument, "loading query block: %s", err)
	}
	logWarnings(warnings)
	if queryBlk.Seqs.Len() == 0 {
		return errs.New(errs.InvalidQueries, "query file %q contains no sequences", opts.QueryPath)
	}
	if err := queryBlk.SoftMask(maskAlgorithm(opts.Masking)); err != nil {
		return fmt.Errorf("alignkit: masking queries: %w", err)
	}
	if !queryBlk.HasValidContext() {
		return errs.New(errs.InvalidQueries, "search cannot proceed due to errors in all contexts")
	}

	hitCap := opts.HitBuffer.BudgetPerBin
	rIdx := search.BuildIndexes(refBlk, shapes, reduction, opts.IndexChunks, hitCap)
	qIdx := search.BuildIndexes(queryBlk, shapes, reduction, opts.IndexChunks, hitCap)

	opts.TmpDir = scheduler.ResolveTmpDir(*flagTmpDir, 1<<30)
	opts.HitBuffer.TmpDir = opts.TmpDir
	hb := hitbuffer.New(opts.HitBuffer)
	defer hb.Close()

	ctx, cancel := scheduler.WithTimeout(context.Background(), time.Duration(opts.TimeoutSeconds)*time.Second)
	defer cancel()
	sched := scheduler.New(opts.Threads)

	if err := runSeeding(ctx, sched, shapes, qIdx, rIdx, queryBlk, refBlk, opts, hb); err != nil {
		return fmt.Errorf("alignkit: seeding: %w", err)
	}

	dict, err := dictionary.Open(opts.TmpDir + "/alignkit-dict.kv")
	if err != nil {
		return fmt.Errorf("alignkit: opening dictionary: %w", err)
	}
	defer dict.Close()

	out := os.Stdout
	if opts.OutPath != "" {
		f, err := os.Create(opts.OutPath)
		if err != nil {
			return fmt.Errorf("alignkit: creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	if err := runChaining(ctx, sched, queryBlk, refBlk, dict, ka, opts, hb, w); err != nil {
		return fmt.Errorf("alignkit: chaining: %w", err)
	}
	return nil
}

// runSeeding splits the query block into letter-budget ranges, crosses them
// with every seed-table partition and active shape, and dispatches the
// resulting units across the scheduler's worker pool. Hit-buffer shard
// locking provides the back-pressure between concurrent units.
func runSeeding(ctx context.Context, sched *scheduler.Scheduler, shapes []*shape.Shape, qIdx, rIdx search.ShapeIndexes, queryBlk, refBlk *block.Block, opts *config.Options, hb *hitbuffer.Buffer) error {
	letterCounts := make([]int, queryBlk.Seqs.Len())
	for i := range letterCounts {
		letterCounts[i] = queryBlk.Seqs.SequenceLen(i)
	}
	qPlan := scheduler.PlanBlocks(letterCounts, opts.BlockSizeBytes)

	partitions := make([]int, opts.IndexChunks)
	for i := range partitions {
		partitions[i] = i
	}
	shapeByID := make(map[int]*shape.Shape, len(shapes))
	shapeIDs := make([]int, 0, len(shapes))
	for _, s := range shapes {
		shapeByID[s.ID] = s
		shapeIDs = append(shapeIDs, s.ID)
	}

	units := scheduler.GenerateWorkUnits(len(qPlan), 1, partitions, shapeIDs)
	err := sched.Run(ctx, units, func(ctx context.Context, u scheduler.WorkUnit) error {
		qr := qPlan[u.QueryBlock]
		return search.SeedUnit(shapeByID[u.ShapeID], qIdx, rIdx, u.Partition, qr[0], qr[1], queryBlk, refBlk, opts, hb)
	})
	if err != nil {
		return err
	}
	return hb.Flush()
}

// runChaining dispatches one work unit per query across the scheduler's
// pool; each worker chains its query and pushes the rendered rows into the
// reorder queue, which restores input order no matter how the workers
// finish.
func runChaining(ctx context.Context, sched *scheduler.Scheduler, queryBlk, refBlk *block.Block, dict *dictionary.Dictionary, ka alphabet.KarlinAltschul, opts *config.Options, hb *hitbuffer.Buffer, w *bufio.Writer) error {
	byQuery, err := search.ReadHits(hb, opts.HitBuffer.Shards)
	if err != nil {
		return err
	}

	// Depth covers every query so a cancelled run can never strand a worker
	// waiting on an ordinal whose unit was skipped after the context fired.
	queue := sink.New(&tabularConsumer{w: w}, queryBlk.Seqs.Len()+1)

	units := make([]scheduler.WorkUnit, queryBlk.Seqs.Len())
	for i := range units {
		units[i] = scheduler.WorkUnit{QueryBlock: i}
	}
	return sched.Run(ctx, units, func(ctx context.Context, u scheduler.WorkUnit) error {
		qi := u.QueryBlock
		r, err := search.ChainQuery(qi, byQuery[uint32(qi)], queryBlk, refBlk, 0, dict, ka, opts)
		if err != nil {
			return err
		}
		return queue.Push(qi, renderTabular(r, *flagEValue))
	})
}

func parseSensitivity(s string) (config.Sensitivity, error) {
	switch s {
	case "faster":
		return config.Faster, nil
	case "fast":
		return config.Fast, nil
	case "default":
		return config.Default, nil
	case "sensitive":
		return config.Sensitive, nil
	case "more-sensitive":
		return config.MoreSensitive, nil
	case "very-sensitive":
		return config.VerySensitive, nil
	case "ultra-sensitive":
		return config.UltraSensitive, nil
	default:
		return config.Default, errs.New(errs.InvalidArgument, "unknown --sensitivity %q", s)
	}
}

func maskAlgorithm(name string) block.MaskAlgorithm {
	switch name {
	case "seg":
		return block.MaskSEG
	case "tantan":
		return block.MaskTantan
	default:
		return block.MaskNone
	}
}

func logWarnings(warnings []string) {
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}
}

// tabularConsumer writes already-rendered per-query byte buffers straight
// through, in the order ReorderQueue hands them back.
type tabularConsumer struct {
	w *bufio.Writer
}

func (c *tabularConsumer) Accept(ordinal int, buf []byte) error {
	_, err := c.w.Write(buf)
	return err
}

// renderTabular formats one query's surviving Hsps as outfmt-6-style tab
// separated rows, dropping any Hsp whose E-value exceeds maxEValue.
func renderTabular(r search.QueryResult, maxEValue float64) []byte {
	var buf []byte
	for _, h := range r.Hsps {
		if h.EValue > maxEValue {
			continue
		}
		buf = append(buf, tabularRow(r.Title, h)...)
	}
	return buf
}

func tabularRow(queryTitle string, h chain.Hsp) []byte {
	pident := 0.0
	if h.Length > 0 {
		pident = 100 * float64(h.Identities) / float64(h.Length)
	}
	line := fmt.Sprintf("%s\t%s\t%.3f\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%g\t%.1f\n",
		queryTitle, h.TargetTitle, pident, h.Length, h.Mismatches, h.GapOpenings,
		h.QueryStart+1, h.QueryEnd, h.SubjectStart+1, h.SubjectEnd, h.EValue, h.BitScore)
	return []byte(line)
}
