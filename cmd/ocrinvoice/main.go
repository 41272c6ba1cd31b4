package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gmsas95/ocrinvoice/internal/app"
	"github.com/gmsas95/ocrinvoice/internal/batch"
	"github.com/gmsas95/ocrinvoice/internal/config"
	"github.com/gmsas95/ocrinvoice/internal/invoice"
	"github.com/gmsas95/ocrinvoice/internal/logging"
)

var version = "dev"

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "extract":
		runExtract(args)
	case "templates":
		runTemplates(args)
	case "version", "--version", "-v":
		fmt.Printf("ocrinvoice version %s\n", version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
}

func printHelp() {
	fmt.Println(`ocrinvoice - OCR.space + invoice template extraction

Usage:
  ocrinvoice [serve] [-config file]        Run the HTTP service (default)
  ocrinvoice extract [-config file] PDF... Extract invoices from PDFs with a text layer
  ocrinvoice templates [-config file]      List loaded invoice templates
  ocrinvoice version                       Print the version

Environment:
  OCR_SPACE_API_KEY  OCR.space API key (required for /upload)
  PORT               Listen port (default 5000)`)
}

// initApp loads .env files and config, then builds the app
func initApp(name string, args []string, quiet bool) (*app.App, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if quiet {
		logger = zap.NewNop()
	}

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}
	return application, fs.Args()
}

func runServe(args []string) {
	application, _ := initApp("serve", args, false)
	defer application.Logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.RunServer(ctx); err != nil {
		application.Logger.Fatal("Server error", zap.Error(err))
	}
}

func runExtract(args []string) {
	application, files := initApp("extract", args, true)
	paths, err := batch.ExpandPaths(files)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ocrinvoice extract [-config file] PDF|DIR...")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc := batch.NewProcessor(application.Extractor, batch.DefaultConfig(), application.Logger)
	res := proc.Run(ctx, paths)

	var out any = res
	if len(paths) == 1 {
		item := res.Items[0]
		if item.Error != "" {
			out = map[string]string{"error": item.Error}
		} else {
			out = item.Invoice
		}
	}

	pretty := term.IsTerminal(int(os.Stdout.Fd()))
	if err := writeJSON(os.Stdout, out, pretty); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	if len(paths) > 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprint(os.Stderr, res.Summary())
	}
	if res.Failed > 0 {
		os.Exit(1)
	}
}

func runTemplates(args []string) {
	application, _ := initApp("templates", args, true)
	printTemplates(os.Stdout, application.Templates.Templates())
}

func printTemplates(w io.Writer, templates []*invoice.Template) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tISSUER\tFILE")
	for _, t := range templates {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", t.Priority, t.Issuer, t.Name)
	}
	tw.Flush()
}

// writeJSON indents output for humans and keeps it compact for pipes
func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
