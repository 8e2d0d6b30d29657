package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/storysync/internal/models"
	"github.com/kimhsiao/storysync/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached stories and photos",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cached stories, photos and completed queue items",
	RunE:  runCachePrune,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached story (favorites are kept)",
	RunE:  runCacheClear,
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Check or reset the local story store",
}

var storeCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the local store and queued photos, repairing what it can",
	RunE:  runStoreCheck,
}

var storeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the cache and favorites",
	Long: `Drop and recreate the cache and favorites collections. Every cached and
favorited story is deleted. The offline queue is kept.`,
	RunE: runStoreReset,
}

var favoritesCmd = &cobra.Command{
	Use:     "favorites",
	Aliases: []string{"fav"},
	Short:   "List, export and import favorite stories",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorites, most recently saved first",
	RunE:  runFavoritesList,
}

var favoritesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write favorites to a checksummed JSON file",
	RunE:  runFavoritesExport,
}

var favoritesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore favorites from an export",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoritesImport,
}

func init() {
	rootCmd.AddCommand(cacheCmd, storeCmd, favoritesCmd)
	cacheCmd.AddCommand(cachePruneCmd, cacheClearCmd)
	storeCmd.AddCommand(storeCheckCmd, storeResetCmd)
	favoritesCmd.AddCommand(favoritesListCmd, favoritesExportCmd, favoritesImportCmd)

	storeResetCmd.Flags().Bool("yes", false, "confirm the reset")
	favoritesListCmd.Flags().Int("page", 1, "page number")
	favoritesListCmd.Flags().Int("limit", 20, "favorites per page")
	favoritesExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.repo.Cleanup(cmd.Context())
	if err != nil {
		return err
	}
	printer(cmd).Success("removed %d stories, %d photos and %d completed queue items",
		res.Stories, res.Images, res.CompletedItems)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repo.ClearCachedStories(cmd.Context()); err != nil {
		return err
	}
	printer(cmd).Success("cache cleared")
	return nil
}

func runStoreCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p := printer(cmd)
	ctx := cmd.Context()
	reset, err := a.repo.Store().EnsureHealthy(ctx)
	if err != nil {
		return err
	}
	if reset {
		p.Warning("store was unhealthy and has been reset")
	} else {
		p.Success("store is healthy")
	}

	photos, err := a.repo.Queue().CheckPhotos(ctx)
	if err != nil {
		return err
	}
	p.Info("%d queued photos, %s", photos.Checked, humanize.IBytes(uint64(photos.Bytes)))
	if photos.Orphans > 0 {
		p.Warning("removed %d orphaned photos", photos.Orphans)
	}
	for _, id := range photos.Corrupted {
		p.Warning("photo for %s is corrupted; run `storysync queue remove %s`", id, id)
	}
	return nil
}

func runStoreReset(cmd *cobra.Command, args []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("reset deletes every cached and favorite story; rerun with --yes")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repo.Store().Reset(cmd.Context()); err != nil {
		return err
	}
	printer(cmd).Success("store reset")
	return nil
}

func runFavoritesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")
	res, err := a.repo.FavoritesPage(cmd.Context(), page, limit)
	if err != nil {
		return err
	}

	p := printer(cmd)
	if len(res.Favorites) == 0 {
		p.Info("no favorites")
		return nil
	}
	table := output.NewTable(cmd.OutOrStdout(), "ID", "NAME", "DESCRIPTION", "LOCATION", "CREATED")
	for _, s := range res.Favorites {
		table.AddRow(s.ID, s.Name, truncate(s.Description, 50), location(s), s.CreatedAt.Local().Format("2006-01-02"))
	}
	if err := table.Render(); err != nil {
		return err
	}
	p.Info("page %d of %d, %d favorites", res.Pagination.CurrentPage, res.Pagination.TotalPages, res.Pagination.TotalCount)
	return nil
}

func location(s *models.Story) string {
	loc := s.Location()
	if loc == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f, %.4f", loc.Lat, loc.Lon)
}

func runFavoritesExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.repo.ExportFavorites(cmd.Context())
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		_, err := cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	printer(cmd).Success("exported favorites to %s", path)
	return nil
}

func runFavoritesImport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.repo.ImportFavorites(cmd.Context(), data)
	if err != nil {
		return err
	}
	printer(cmd).Success("imported %d favorites", n)
	return nil
}
