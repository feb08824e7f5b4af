package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"bulkgetter/endpoint"
	"bulkgetter/ensembl"
	"bulkgetter/getter"
	"bulkgetter/internal/config"
)

const closeTimeout = 30 * time.Second

// record is one line of output
type record struct {
	ID     string `json:"id" yaml:"id"`
	Found  bool   `json:"found" yaml:"found"`
	Result any    `json:"result,omitempty" yaml:"result,omitempty"`
}

// run looks every identifier up on the configured endpoint
func run(ctx context.Context, cfg *config.Config, ids []string, reg prometheus.Registerer, logger zerolog.Logger) ([]record, error) {
	switch cfg.Endpoint {
	case config.EndpointVEP:
		return fetch[ensembl.VEPAnalysis](ctx, ensembl.VEP(), cfg, ids, reg, logger)
	case config.EndpointLookup:
		return fetch[ensembl.Transcript](ctx, ensembl.Lookup(), cfg, ids, reg, logger)
	case config.EndpointCDS:
		return fetch[ensembl.Sequence](ctx, ensembl.CDS(), cfg, ids, reg, logger)
	case config.EndpointCDNA:
		return fetch[ensembl.Sequence](ctx, ensembl.CDNA(), cfg, ids, reg, logger)
	case config.EndpointGenomic:
		return fetch[ensembl.Sequence](ctx, ensembl.Genomic(), cfg, ids, reg, logger)
	default:
		return nil, fmt.Errorf("unknown endpoint %q", cfg.Endpoint)
	}
}

func fetch[T any](ctx context.Context, adapter endpoint.Adapter[T], cfg *config.Config, ids []string, reg prometheus.Registerer, logger zerolog.Logger) ([]record, error) {
	g, err := getter.New(adapter, cfg.Config, getter.WithLogger(logger), getter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create getter: %w", err)
	}

	stopStats := logStats(g, cfg.GetStatsLogIntervalDuration(), logger)

	records := make([]record, len(ids))
	client := g.Client()

	eg, egCtx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		eg.SetLimit(cfg.Concurrency)
	}
	for i, id := range ids {
		eg.Go(func() error {
			v, ok := client.Fetch(egCtx, id)
			if !ok && egCtx.Err() != nil {
				return egCtx.Err()
			}
			records[i] = record{ID: id, Found: ok}
			if ok {
				records[i].Result = v
			}
			return nil
		})
	}
	fetchErr := eg.Wait()
	stopStats()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := g.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}

	for _, f := range g.RecentFailures() {
		logger.Warn().
			Str("id", f.ID).
			Str("kind", f.Kind).
			Str("batch", f.BatchID).
			Str("error", f.Err).
			Msg("identifier failed")
	}

	if fetchErr != nil {
		return nil, fmt.Errorf("interrupted: %w", fetchErr)
	}

	found := 0
	for _, r := range records {
		if r.Found {
			found++
		}
	}
	logger.Info().
		Int("requested", len(ids)).
		Int("found", found).
		Int("absent", len(ids)-found).
		Msg("fetch complete")

	return records, nil
}

// logStats logs getter stats every interval until the returned func is called
func logStats[T any](g *getter.Getter[T], interval time.Duration, logger zerolog.Logger) func() {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s := g.Stats()
				logger.Info().
					Int("pending", s.Pending).
					Uint64("requests", s.Requests).
					Uint64("failures", s.Failures).
					Uint64("retries", s.Retries).
					Uint64("rejected", s.Rejected).
					Str("breaker", s.BreakerState).
					Msg("getter status")
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// readIdentifiers collects identifiers from args and, when path is set,
// from a file ("-" reads stdin). Blank lines and # comments are skipped and
// duplicates keep their first position.
func readIdentifiers(path string, args []string, stdin io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "#") || seen[s] {
			return
		}
		seen[s] = true
		ids = append(ids, s)
	}

	for _, a := range args {
		add(a)
	}

	if path == "" {
		return ids, nil
	}

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return ids, nil
}

// writeRecords prints records as an indented JSON array or a YAML sequence
func writeRecords(w io.Writer, format string, records []record) error {
	switch format {
	case config.OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
}
