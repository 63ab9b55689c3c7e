package cmd

import (
	"fmt"
	"io"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"jdeobf/internal/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the configured log file",
	Long: `Print the last lines of the log file named by log-file in jdeobf.toml,
optionally following it as it grows.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.LogFile == "" {
			return fmt.Errorf("no log file configured (set log-file in %s)", config.FileName)
		}
		n, _ := cmd.Flags().GetInt("tail")
		out := cmd.OutOrStdout()

		lines, err := lastLines(cfg.LogFile, n)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}

		if follow, _ := cmd.Flags().GetBool("follow"); !follow {
			return nil
		}
		t, err := tail.TailFile(cfg.LogFile, tail.Config{
			Follow:   true,
			ReOpen:   true,
			Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
			Logger:   tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to follow %s: %w", cfg.LogFile, err)
		}
		defer t.Cleanup()
		defer t.Stop()

		ctx := cmd.Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-t.Lines:
				if !ok {
					return t.Err()
				}
				if line.Err != nil {
					return line.Err
				}
				fmt.Fprintln(out, line.Text)
			}
		}
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().IntP("tail", "t", 100, "Number of lines to show from the end")
	rootCmd.AddCommand(logsCmd)
}

// lastLines returns up to n trailing lines of path.
func lastLines(path string, n int) ([]string, error) {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer t.Cleanup()

	var ring []string
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, line.Text)
	}
	return ring, nil
}
