package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ampviewer/internal/manifest"
	"github.com/GriffinCanCode/ampviewer/internal/prefetch"
)

var (
	errUsage          = errors.New("usage: ampcache [flags] url...")
	errPrefetchFailed = errors.New("one or more prefetches failed")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "ampcache:", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

type options struct {
	mode        string
	origin      string
	cacheDomain string
	jsVersion   string
	manifest    string
	params      cacheurl.InitParams
	prefetch    bool
	explain     bool
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	o := &options{}
	fs := flag.NewFlagSet("ampcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", "", "cache entry point: viewer or native (default viewer)")
	fs.StringVar(&o.origin, "origin", "", "viewer origin sent as the first init param")
	fs.StringVar(&o.cacheDomain, "cache-domain", cacheurl.DefaultCacheDomain, "AMP cache domain")
	fs.StringVar(&o.jsVersion, "js", cacheurl.DefaultJSVersion, "AMP runtime version for viewer URLs")
	fs.StringVar(&o.manifest, "manifest", "", "YAML or TOML article manifest")
	fs.BoolVar(&o.prefetch, "prefetch", false, "fetch native cache URLs and print a status line per article")
	fs.BoolVar(&o.explain, "explain", false, "print the cache subdomain label and its derivation")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging on stderr")
	fs.Func("p", "extra init param as key=value (repeatable)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("want key=value, got %q", s)
		}
		o.params = o.params.Add(k, v)
		return nil
	})
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

// job is one article to convert.
type job struct {
	url    string
	params cacheurl.InitParams
	opts   []cacheurl.Option
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, urls, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	log, err := logging.New(logging.CLIConfig(o.verbose))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	mode, err := cacheurl.ParseMode(o.mode)
	if err != nil {
		return err
	}

	var cliParams cacheurl.InitParams
	if o.origin != "" {
		cliParams = cliParams.Set("origin", o.origin)
	}
	for _, p := range o.params {
		cliParams = cliParams.Set(p.Key, p.Value)
	}

	var jobs []job
	if o.manifest != "" {
		m, err := manifest.Load(o.manifest)
		if err != nil {
			return err
		}
		if o.mode == "" && m.Mode != "" {
			if mode, err = cacheurl.ParseMode(m.Mode); err != nil {
				return err
			}
		}
		if m.Origin == "" {
			m.Origin = o.origin
		}
		var opts []cacheurl.Option
		if m.CacheDomain != "" {
			opts = append(opts, cacheurl.WithCacheDomain(m.CacheDomain))
		}
		if m.JSVersion != "" {
			opts = append(opts, cacheurl.WithJSVersion(m.JSVersion))
		}
		params := m.InitParams()
		for _, a := range m.Articles {
			jobs = append(jobs, job{url: a.URL, params: params, opts: opts})
		}
		log.Debug("Loaded manifest",
			zap.String("path", o.manifest),
			zap.Int("articles", len(m.Articles)),
		)
	}
	for _, u := range urls {
		jobs = append(jobs, job{url: u, params: cliParams})
	}
	if len(jobs) == 0 {
		return errUsage
	}

	b := cacheurl.NewBuilder(cacheurl.Options{CacheDomain: o.cacheDomain, JSVersion: o.jsVersion})
	built := make([]*cacheurl.CacheURL, 0, len(jobs))
	for _, j := range jobs {
		c, err := b.Build(j.url, j.params, mode, j.opts...)
		if err != nil {
			return err
		}
		built = append(built, c)
	}

	if o.prefetch {
		return prefetchAll(ctx, b, jobs, stdout, log.Component("prefetch"))
	}

	if !o.explain {
		for _, c := range built {
			fmt.Fprintln(stdout, c.String())
		}
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, c := range built {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Label(), c.LabelKind(), c.String())
	}
	return tw.Flush()
}

// prefetchAll warms the native entry point of every job, whatever mode the
// URLs were printed in.
func prefetchAll(ctx context.Context, b *cacheurl.Builder, jobs []job, stdout io.Writer, log *zap.Logger) error {
	targets := make([]string, 0, len(jobs))
	for _, j := range jobs {
		c, err := b.Build(j.url, nil, cacheurl.ModeNative, j.opts...)
		if err != nil {
			return err
		}
		targets = append(targets, c.String())
	}

	p := prefetch.New(prefetch.Options{Logger: log})
	results, err := p.PrefetchAll(ctx, targets)
	if err != nil {
		return err
	}

	failed := false
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for i, r := range results {
		if !r.OK() {
			failed = true
		}
		detail := r.Title
		if r.Error != "" {
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.StatusText(), r.Status, r.Duration.Round(time.Millisecond), jobs[i].url, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed {
		return errPrefetchFailed
	}
	return nil
}
