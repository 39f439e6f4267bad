package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/fingerprint"
	"github.com/FranksOps/indexcheck/internal/pipeline"
	"github.com/FranksOps/indexcheck/internal/source"
	"github.com/FranksOps/indexcheck/pkg/proxy"
	"github.com/FranksOps/indexcheck/pkg/ratelimit"
	"github.com/FranksOps/indexcheck/pkg/useragent"
)

func addSourceFlags(fs *pflag.FlagSet) {
	fs.StringSliceP("input", "i", nil, "URL list file (.txt one per line, .csv with --column, - for stdin)")
	fs.String("column", "", "CSV column holding URLs")
	fs.StringSlice("sitemap", nil, "sitemap or sitemap index URL")
	fs.StringSlice("robots", nil, "site whose robots.txt sitemaps are expanded")
	fs.StringSlice("page", nil, "page whose same-site links are crawled")
	fs.StringSlice("feed", nil, "RSS, Atom or JSON feed URL")
	fs.Int("crawl-depth", 1, "link hops followed from --page seeds")
	fs.Int("crawl-max-pages", 0, "cap on crawled URLs, 0 for none")
	fs.Bool("respect-robots", false, "skip crawled URLs disallowed by robots.txt")
	fs.String("fingerprint", string(fingerprint.ProfileGo), "TLS profile for source fetches: go, chrome, firefox, safari or random")
	fs.String("ua-mode", string(useragent.ModeSequential), "User-Agent rotation for source fetches: sequential, random or fixed")
	fs.String("proxies", "", "file of proxies used for source fetches, one per line")
	fs.Float64("source-rps", 2, "maximum source fetches per second, 0 for unpaced")
}

func addSearchFlags(fs *pflag.FlagSet) {
	fs.String("location", "", "search location, e.g. \"France\"")
	fs.String("domain", "", "search engine domain, e.g. google.fr")
	fs.Int("num", batch.DefaultResultCount, "organic results requested per search")
	fs.Int("max-chunk", batch.DefaultMaxChunkSize, "searches appended per call")
	fs.Int("max-total", batch.DefaultMaxTotalItems, "maximum URLs per run; the rest is dropped with a warning")
}

func newConfigureCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Collect URLs and store a new run (no provider call)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.configure(cmd.Context())
			if err != nil {
				return err
			}
			printConfigure(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addSourceFlags(cmd.Flags())
	addSearchFlags(cmd.Flags())
	return cmd
}

func (a *app) searchConfig() batch.SearchConfig {
	return batch.SearchConfig{
		APIKey:        a.v.GetString("api-key"),
		Location:      a.v.GetString("location"),
		Domain:        a.v.GetString("domain"),
		ResultCount:   a.v.GetInt("num"),
		MaxChunkSize:  a.v.GetInt("max-chunk"),
		MaxTotalItems: a.v.GetInt("max-total"),
	}
}

func (a *app) sources() source.Sources {
	return source.Sources{
		Files:    a.v.GetStringSlice("input"),
		Column:   a.v.GetString("column"),
		Sitemaps: a.v.GetStringSlice("sitemap"),
		Robots:   a.v.GetStringSlice("robots"),
		Pages:    a.v.GetStringSlice("page"),
		Feeds:    a.v.GetStringSlice("feed"),
		Crawl: source.CrawlConfig{
			MaxDepth:      a.v.GetInt("crawl-depth"),
			MaxPages:      a.v.GetInt("crawl-max-pages"),
			RespectRobots: a.v.GetBool("respect-robots"),
		},
	}
}

// fetcher builds the source fetcher. The caller stops the returned limiter.
func (a *app) fetcher() (*source.Fetcher, *ratelimit.Limiter, error) {
	profile, err := fingerprint.ParseProfile(a.v.GetString("fingerprint"))
	if err != nil {
		return nil, nil, err
	}
	mode, err := useragent.ParseMode(a.v.GetString("ua-mode"))
	if err != nil {
		return nil, nil, err
	}

	var pool *proxy.Pool
	if path := a.v.GetString("proxies"); path != "" {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(path); err != nil {
			return nil, nil, err
		}
		a.logger.Info("proxies loaded", "count", pool.Len())
	}

	limiter := ratelimit.NewLimiter(a.v.GetFloat64("source-rps"), 0.2)
	f, err := source.NewFetcher(source.Config{
		Timeout:     a.v.GetDuration("timeout"),
		Fingerprint: profile,
		UAPool:      useragent.NewPool(nil, mode),
		ProxyPool:   pool,
		Limiter:     limiter,
		Logger:      a.logger,
	})
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}
	return f, limiter, nil
}

func (a *app) configure(ctx context.Context) (*pipeline.ConfigureResult, error) {
	srcs := a.sources()
	if srcs.Empty() {
		return nil, &batch.ConfigurationError{Field: "urls", Reason: "give --input, --sitemap, --robots, --page or --feed"}
	}
	// Check the search config before spending time on discovery.
	if err := a.searchConfig().WithDefaults().Validate(); err != nil {
		return nil, err
	}

	f, limiter, err := a.fetcher()
	if err != nil {
		return nil, err
	}
	defer limiter.Stop()

	urls, err := source.Collect(ctx, f, srcs)
	for _, st := range f.ProxyStats() {
		a.logger.Info("proxy health", "proxy", st.URL, "successes", st.Successes, "failures", st.Failures, "benched", st.Benched)
	}
	if err != nil {
		return nil, fmt.Errorf("collect urls: %w", err)
	}

	p, err := a.pipeline(ctx, false)
	if err != nil {
		return nil, err
	}
	return p.Configure(ctx, urls, a.searchConfig())
}
