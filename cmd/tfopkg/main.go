// Command tfopkg inspects and unpacks encrypted game packages.
//
// Usage:
//
//	tfopkg [flags] header  <data.pkg|url>
//	tfopkg [flags] list    <data.pkg|url>
//	tfopkg [flags] index   <index.pkg|url>
//	tfopkg [flags] cat     <data.pkg|url> <entry>
//	tfopkg [flags] extract [-workers n] [-overwrite] [-prefix dir] <data.pkg|url> <dest>
//
// Secrets default to the TFOPKG_HEADER_SECRET and TFOPKG_DATA_SECRET
// environment variables. The index key table is read from the file named by
// -keys or TFOPKG_KEYS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/untfo/tfopkg"
	"github.com/untfo/tfopkg/cache/disk"
	tfohttp "github.com/untfo/tfopkg/http"
	"github.com/untfo/tfopkg/internal/pathutil"
	"github.com/untfo/tfopkg/keys"
)

// Environment variables consulted when the matching flag is not set.
const (
	envHeaderSecret = "TFOPKG_HEADER_SECRET"
	envDataSecret   = "TFOPKG_DATA_SECRET"
	envKeys         = "TFOPKG_KEYS"
)

var errUsage = errors.New("usage: tfopkg [flags] header|list|index|cat|extract ...")

type config struct {
	secrets       tfopkg.Secrets
	keysPath      string
	cacheDir      string
	cacheMaxBytes int64
	maxFileSize   uint64
	verbose       bool

	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "tfopkg:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	cfg, rest, err := parseFlags(args, getenv, stderr)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errUsage
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "header":
		return runHeader(ctx, cfg, cmdArgs, stdout)
	case "list":
		return runList(ctx, cfg, cmdArgs, stdout)
	case "index":
		return runIndex(ctx, cfg, cmdArgs, stdout)
	case "cat":
		return runCat(ctx, cfg, cmdArgs, stdout)
	case "extract":
		return runExtract(ctx, cfg, cmdArgs, stdout, stderr)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (*config, []string, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("tfopkg", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.secrets.Header, "header-secret", getenv(envHeaderSecret), "secret for package headers and records")
	fs.StringVar(&cfg.secrets.Data, "data-secret", getenv(envDataSecret), "secret for file payloads")
	fs.StringVar(&cfg.keysPath, "keys", getenv(envKeys), "index key table file (one hex key per line)")
	fs.StringVar(&cfg.cacheDir, "cache-dir", "", "cache decrypted payloads in this directory")
	fs.Int64Var(&cfg.cacheMaxBytes, "cache-max-bytes", 0, "maximum cache size in bytes (0 = unlimited)")
	fs.Uint64Var(&cfg.maxFileSize, "max-file-size", tfopkg.DefaultMaxFileSize, "largest stored payload to read (0 = unlimited)")
	fs.BoolVar(&cfg.verbose, "v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	cfg.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return cfg, fs.Args(), nil
}

func runHeader(ctx context.Context, cfg *config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: tfopkg header <data.pkg|url>")
	}
	a, closeFn, err := openArchive(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	h := a.Header()
	fmt.Fprintf(stdout, "hash:        %s\n", h.Hash)
	fmt.Fprintf(stdout, "files:       %d\n", h.FileCount)
	fmt.Fprintf(stdout, "reserved:    % x\n", h.Reserved)
	fmt.Fprintf(stdout, "header size: %d\n", h.TotalHeaderSize())
	return nil
}

func runList(ctx context.Context, cfg *config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: tfopkg list <data.pkg|url>")
	}
	a, closeFn, err := openArchive(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSTORED\tFLAGS\tENCRYPTED")
	for e := range a.Entries() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%t\n", e.Name, e.Size, e.SizeEncrypted, e.Flags, e.Encrypted)
	}
	return tw.Flush()
}

func runIndex(ctx context.Context, cfg *config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: tfopkg index <index.pkg|url>")
	}
	if cfg.keysPath == "" {
		return fmt.Errorf("index key table required (-keys or %s)", envKeys)
	}
	table, err := loadKeyTable(cfg.keysPath)
	if err != nil {
		return err
	}

	target := args[0]
	var idx *tfopkg.IndexPackage
	if isURL(target) {
		src, name, err := openRemote(ctx, target)
		if err != nil {
			return err
		}
		idx, err = tfopkg.ReadIndexPackage(io.NewSectionReader(src, 0, src.Size()), name, table, tfopkg.WithLogger(cfg.logger))
		if err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
	} else {
		idx, err = tfopkg.ReadIndexFile(target, table, tfopkg.WithLogger(cfg.logger))
		if err != nil {
			return err
		}
	}

	cfg.logger.Debug("index header", "version", idx.Version, "cipher", idx.Cipher, "selector", idx.KeySelector, "length", idx.DeclaredLength)
	for _, name := range idx.Filenames {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func runCat(ctx context.Context, cfg *config, args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: tfopkg cat <data.pkg|url> <entry>")
	}
	a, closeFn, err := openArchive(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	content, err := a.ReadFile(pathutil.Slash(args[1]))
	if err != nil {
		return err
	}
	_, err = stdout.Write(content)
	return err
}

func runExtract(ctx context.Context, cfg *config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workers := fs.Int("workers", 0, "parallel workers (0 = GOMAXPROCS)")
	overwrite := fs.Bool("overwrite", false, "overwrite existing files")
	prefix := fs.String("prefix", "", "only extract entries under this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: tfopkg extract [-workers n] [-overwrite] [-prefix dir] <data.pkg|url> <dest>")
	}

	a, closeFn, err := openArchive(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := a.Extract(ctx, fs.Arg(1),
		tfopkg.ExtractWithWorkers(*workers),
		tfopkg.ExtractWithOverwrite(*overwrite),
		tfopkg.ExtractWithPrefix(*prefix),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "extracted %d files (%d bytes), skipped %d\n", stats.Files, stats.Bytes, stats.Skipped)
	return nil
}

// openArchive opens a local or remote data package. The returned function
// releases the file handle and cache.
func openArchive(ctx context.Context, cfg *config, target string) (*tfopkg.Archive, func(), error) {
	opts := []tfopkg.Option{
		tfopkg.WithLogger(cfg.logger),
		tfopkg.WithMaxFileSize(cfg.maxFileSize),
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				cfg.logger.Warn("close failed", "error", err)
			}
		}
	}

	if cfg.cacheDir != "" {
		c, err := disk.New(cfg.cacheDir, disk.WithMaxBytes(cfg.cacheMaxBytes))
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		closers = append(closers, c.Close)
		opts = append(opts, tfopkg.WithCache(c))
	}

	if isURL(target) {
		src, name, err := openRemote(ctx, target)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		a, err := tfopkg.NewArchive(src, name, cfg.secrets, opts...)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", target, err)
		}
		return a, closeAll, nil
	}

	af, err := tfopkg.OpenFile(target, cfg.secrets, opts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, af.Close)
	return af.Archive, closeAll, nil
}

// openRemote returns an HTTP source and the package name taken from the URL path.
func openRemote(ctx context.Context, target string) (*tfohttp.Source, string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return nil, "", fmt.Errorf("%s: url has no package name", target)
	}
	src, err := tfohttp.NewSource(ctx, target)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", target, err)
	}
	return src, name, nil
}

func loadKeyTable(p string) (keys.KeyTable, error) {
	f, err := os.Open(p) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open key table: %w", err)
	}
	defer f.Close()
	return keys.ParseKeyTable(f)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
