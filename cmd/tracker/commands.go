package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"toytracker/internal/config"
	"toytracker/internal/crawler"
	"toytracker/internal/ingest"
	"toytracker/internal/matcher"
	"toytracker/internal/model"
	"toytracker/internal/pkg/logger"
	"toytracker/internal/pkg/pricefont"
	"toytracker/internal/store"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// newRootCmd 构造离线工具的命令树：导入列表、解码价格、重建总表、查看统计。
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Offline tools for the toy price tracker",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			opts.logger = logger.New(cmd.ErrOrStderr(), cfg.App.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.json", "config file path")

	root.AddCommand(
		newImportCmd(opts),
		newDecodeCmd(),
		newMatchCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

func (o *rootOptions) openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.Open(o.cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(db, o.cfg.App.Location())
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newImportCmd 从 JSON 或保存的 HTML 列表页导入一个平台的记录。
func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		platform string
		fontPath string
	)
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Ingest listings from JSON arrays or saved listing pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := model.ParsePlatform(platform)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			reqs := make([]crawler.PageRequest, 0, len(args))
			for i, path := range args {
				reqs = append(reqs, crawler.PageRequest{Platform: p, URL: path, Page: i + 1})
			}
			collected, results, err := crawler.Collect(ctx, crawler.FileSource{}, reqs, 0, opts.logger)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					return fmt.Errorf("read %s: %w", r.Request.URL, r.Err)
				}
			}

			if fontPath == "" && p == model.PlatformTmall {
				fontPath = opts.cfg.Crawl.TmallFontPath
			}
			decoder := ingest.LoadDecoder(fontPath, opts.logger)
			ing := ingest.NewFromConfig(opts.cfg, st, opts.logger)
			defer ing.Close()
			reports, err := ing.IngestAll(ctx, ingest.Batches(opts.cfg.Crawl, collected, decoder))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform of the listings (jd|tmall)")
	cmd.Flags().StringVar(&fontPath, "font", "", "price font or JSON glyph mapping (defaults to crawl.tmall_font_path for tmall)")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

// newDecodeCmd 用字体还原混淆价格，便于核对字体映射。
func newDecodeCmd() *cobra.Command {
	var fontPath string
	cmd := &cobra.Command{
		Use:   "decode TEXT...",
		Short: "Decode obfuscated price glyphs with a price font",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pricefont.LoadFile(fontPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, text := range args {
				fmt.Fprintf(out, "%q\t%.2f\n", text, d.Decode(text))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fontPath, "font", "", "price font (.ttf/.otf/.woff) or JSON glyph mapping")
	_ = cmd.MarkFlagRequired("font")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Rebuild the JD/Tmall product summary, keeping manual rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			res, err := matcher.New(st, opts.logger).Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print product and price history counts per platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
