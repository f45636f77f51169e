package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/AnyUserName/avifbatch/internal/dedup"
)

var (
	cacheBackendFlag string
	cachePathFlag    string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the conversion cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered conversions",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every remembered conversion",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheBackendFlag, "cache-backend", "", "cache backend: json, sqlite, pebble")
	cacheCmd.PersistentFlags().StringVar(&cachePathFlag, "cache", "", "cache location")
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() (*dedup.Cache, error) {
	if cacheBackendFlag != "" {
		if filepath.Base(cfg.Cache.Path) == dedup.DefaultFileName(cfg.Cache.Backend) {
			cfg.Cache.Path = filepath.Join(filepath.Dir(cfg.Cache.Path), dedup.DefaultFileName(cacheBackendFlag))
		}
		cfg.Cache.Backend = cacheBackendFlag
	}
	if cachePathFlag != "" {
		cfg.Cache.Path = cachePathFlag
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return dedup.Open(cfg.Cache.Backend, cfg.Cache.Path, logger)
}

func runCacheList(_ *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Entries()
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("%s cache: %s", cfg.Cache.Backend, cfg.Cache.Path))
	tw.AppendHeader(table.Row{"Digest", "Output", "Present", "Converted", "Settings"})
	for _, e := range entries {
		present := "yes"
		if _, err := os.Stat(e.OutputPath); err != nil {
			present = "no"
		}
		tw.AppendRow(table.Row{e.Digest.Short(), e.OutputPath, present, humanize.Time(e.Timestamp), e.Settings})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d entries", len(entries)), "", "", ""})
	tw.Render()
	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Entries()
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	if err := c.Clear(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logger.Info("cache cleared", "backend", cfg.Cache.Backend, "path", cfg.Cache.Path, "entries", len(entries))
	return nil
}
