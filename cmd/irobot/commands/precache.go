package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/pkg/config"
)

var precacheGCForce bool

var precacheCmd = &cobra.Command{
	Use:   "precache",
	Short: "Operate on the precache without starting the gateway",
}

var precacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Manually run the expiry sweep",
	Long: `Manually trigger the expiry sweep that normally runs on a
background timer: every tracked entry whose last access exceeds
precache.expiry, and that is neither contended nor mid-fetch, is evicted.`,
	RunE: runPrecacheGC,
}

var precacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked precache entries",
	RunE:  runPrecacheList,
}

func init() {
	precacheGCCmd.Flags().BoolVar(&precacheGCForce, "force", false, "Skip the confirmation prompt")
	precacheCmd.AddCommand(precacheGCCmd)
	precacheCmd.AddCommand(precacheListCmd)
}

func runPrecacheGC(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	mgr, st, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer mgr.Close()

	entries, err := mgr.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list precache entries: %w", err)
	}
	cmd.Printf("%d entries tracked; gc will evict any whose last access exceeds %s.\n", len(entries), cfg.Precache.Expiry)

	if !precacheGCForce {
		prompt := promptui.Prompt{
			Label:     "Run expiry sweep now",
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			if err == promptui.ErrAbort {
				cmd.Println("Aborted.")
				return nil
			}
			return err
		}
	}

	evicted, err := mgr.RunExpirySweep(ctx)
	if err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}
	cmd.Printf("Evicted %d entries.\n", evicted)
	return nil
}

func runPrecacheList(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	mgr, st, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer mgr.Close()

	entries, err := mgr.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list precache entries: %w", err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"iRODS path", "status", "size", "last access", "contention"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, e := range entries {
		statuses := make([]string, 0, len(e.Statuses))
		var size int64
		for dt, s := range e.Statuses {
			statuses = append(statuses, fmt.Sprintf("%s=%s", dt, s))
			size += e.Sizes[dt]
		}
		table.Append([]string{
			e.IrodsPath,
			strings.Join(statuses, ","),
			formatSize(size),
			e.LastAccess.UTC().Format("2006-01-02T15:04:05Z"),
			fmt.Sprintf("%d", mgr.ContentionCount(e.ID)),
		})
	}
	table.Render()

	return nil
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
