// Package batch extracts invoices from many local PDFs concurrently
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/ocrinvoice/internal/invoice"
)

// Extractor reads one PDF into an invoice record
type Extractor interface {
	ExtractFile(path string) (invoice.Result, error)
}

type Config struct {
	MaxConcurrency int
}

// Item is the outcome for one file
type Item struct {
	Path     string         `json:"path"`
	Invoice  invoice.Result `json:"invoice"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Result collects the items in input order
type Result struct {
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Items    []Item        `json:"items"`
}

func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

type Processor struct {
	extractor Extractor
	config    Config
	logger    *zap.Logger
}

func NewProcessor(ex Extractor, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		extractor: ex,
		config:    cfg,
		logger:    logger,
	}
}

type job struct {
	index int
	path  string
}

// Run extracts every path. Paths not yet started when ctx is cancelled
// are reported as failed with the context error.
func (p *Processor) Run(ctx context.Context, paths []string) *Result {
	start := time.Now()
	result := &Result{
		Total: len(paths),
		Items: make([]Item, len(paths)),
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result.Items[j.index] = p.processItem(ctx, j.path)
			}
		}()
	}

	for i, path := range paths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for _, item := range result.Items {
		if item.Error == "" {
			result.Success++
		} else {
			result.Failed++
		}
	}
	result.Duration = time.Since(start)
	return result
}

func (p *Processor) processItem(ctx context.Context, path string) Item {
	item := Item{Path: path}
	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item
	}

	start := time.Now()
	res, err := p.extractor.ExtractFile(path)
	item.Duration = time.Since(start)
	if err != nil {
		p.logger.Debug("Extraction failed", zap.String("path", path), zap.Error(err))
		item.Error = err.Error()
		return item
	}
	item.Invoice = res
	return item
}

// ExpandPaths replaces directories with the PDFs directly inside them
func ExpandPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			// missing files surface as per-item errors
			out = append(out, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		var pdfs []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				pdfs = append(pdfs, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(pdfs)
		out = append(out, pdfs...)
	}
	return out, nil
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Extraction Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Success:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration))
	return sb.String()
}
