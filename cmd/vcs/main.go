// cmd/vcs/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"vcs/internal/config"
	"vcs/internal/diff"
	"vcs/internal/logging"
	"vcs/internal/object"
	"vcs/internal/repo"
	"vcs/internal/vcserr"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logger  = logging.Nop()
	cfg     = config.Default()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vcs",
	Short: "vcs is a minimal local version control system",
	Long: `vcs tracks whole-file snapshots in a local repository: stage files,
commit them, walk the history, diff and revert, and carry the whole
repository around as a single snapshot archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Path())
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		base, err := logging.NewLogger(level)
		if err != nil {
			return err
		}
		logger = base.WithOp(cmd.Name())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new repository in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			r, err := repo.Init(dir, logger)
			if err != nil {
				return err
			}
			fmt.Println("Initialized empty repository in", r.Root)
			return nil
		},
	}

	var addCmd = &cobra.Command{
		Use:   "add [paths...]",
		Short: "Stage files for the next commit",
		Long: `Stage the given files: each file's content is stored in the object
store and recorded in the staging area. Staging the same path again
replaces the earlier entry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			results, err := r.Add(args, time.Now())
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					fmt.Printf("%s %s: %v\n", red("skipped"), res.Path, res.Err)
					continue
				}
				fmt.Printf("%s %s (%s)\n", green("added"), res.Path, humanize.Bytes(uint64(res.Size)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d paths could not be staged", failed, len(results))
			}
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Record the staged files as a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			r, err := openRepo()
			if err != nil {
				return err
			}
			c, err := r.Commit(message, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("[%d] %s (%d files)\n", c.ID, c.Message, len(c.Tree))
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the history reachable from HEAD, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			r, err := openRepo()
			if err != nil {
				return err
			}
			commits := r.Log(limit)
			if len(commits) == 0 {
				fmt.Println("No commits yet")
				return nil
			}
			head, _ := r.Head()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, " \tID\tCREATED\tMESSAGE\tFILES\tPARENT")
			for _, c := range commits {
				marker := " "
				if c.ID == head.ID {
					marker = "*"
				}
				parent := strconv.Itoa(c.ParentID)
				if c.ParentID == 0 {
					parent = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
					marker,
					c.ID,
					c.CreatedAt.Format("2006-01-02 15:04:05"),
					truncate(c.Message, 50),
					len(c.Tree),
					parent,
				)
			}
			return w.Flush()
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current commit and the staged files",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			st := r.Status()

			if st.Head == 0 {
				fmt.Println("No commits yet")
			} else {
				fmt.Printf("On commit %d: %s\n", st.Head, st.HeadMessage)
			}
			fmt.Printf("Total commits: %d\n", st.Commits)

			if len(st.Staged) == 0 {
				fmt.Println("\nNo files staged")
				return nil
			}

			fmt.Printf("\nStaged for commit (%d files):\n", len(st.Staged))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE\tDIGEST\tSTAGED")
			for _, e := range st.Staged {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Path,
					humanize.Bytes(uint64(e.Size)),
					e.Digest.Short(),
					e.StagedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff",
		Short: "Compare the file trees of two commits",
		Long: `Compare two commits file by file. With no flags, HEAD is compared
against its parent. A file counts as modified when its content digest
changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt("c1")
			to, _ := cmd.Flags().GetInt("c2")

			r, err := openRepo()
			if err != nil {
				return err
			}
			result, err := r.Diff(from, to)
			if err != nil {
				return err
			}
			if result.Empty() {
				fmt.Printf("No differences between commit %d and commit %d\n", result.From, result.To)
				return nil
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			fmt.Printf("Comparing commit %d to commit %d:\n\n", result.From, result.To)
			for _, e := range result.Entries {
				switch e.Type {
				case diff.Added:
					fmt.Printf("  %s %s (%s)\n", green("A"), e.Path, humanize.Bytes(uint64(e.Size)))
				case diff.Deleted:
					fmt.Printf("  %s %s (%s)\n", red("D"), e.Path, humanize.Bytes(uint64(e.Size)))
				case diff.Modified:
					fmt.Printf("  %s %s (%s, %s)\n", yellow("M"), e.Path, humanize.Bytes(uint64(e.Size)), formatDelta(e.SizeDelta))
				}
			}
			fmt.Printf("\n%d added, %d modified, %d deleted\n",
				result.Stats.Added, result.Stats.Modified, result.Stats.Deleted)
			return nil
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert [commit]",
		Short: "Move HEAD to an earlier commit and restore its files",
		Long: `Restore the working tree to the given commit's snapshot and move
HEAD there. The commit chain is untouched; a later commit can still be
reached by id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid commit id %q", args[0])
			}

			r, err := openRepo()
			if err != nil {
				return err
			}
			c, err := r.Revert(id)
			if err != nil {
				return err
			}
			fmt.Printf("Reverted to commit %d: %s (%d files)\n", c.ID, c.Message, len(c.Tree))
			return nil
		},
	}

	var snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Bundle the repository state into a single archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.SnapshotDir
			}

			r, err := openRepo()
			if err != nil {
				return err
			}
			path, manifest, err := r.Snapshot(name, dir, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Snapshot written to %s (%d commits, %d objects)\n",
				path, manifest.CommitCount, manifest.ObjectCount)
			return nil
		},
	}

	var restoreCmd = &cobra.Command{
		Use:   "restore [archive]",
		Short: "Replace the repository state with a snapshot archive",
		Long: `Validate the archive and swap it in as the complete repository
state. History, objects and HEAD come from the archive; the staging
area is reset and the working tree is rebuilt from the restored HEAD.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			stats, err := r.Restore(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d commits and %d objects, HEAD at %d\n",
				stats.Commits, stats.Objects, stats.Head)
			return nil
		},
	}

	var compressCmd = &cobra.Command{
		Use:   "compress",
		Short: "Re-encode every stored object with a codec",
		Long: `Rewrite the object store with the given codec. Content digests do
not change, so history and staging stay valid; running it twice with
the same codec changes nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			codecName, _ := cmd.Flags().GetString("codec")
			if codecName == "" {
				codecName = cfg.Compression
			}
			codec, err := object.ParseCodec(codecName)
			if err != nil {
				return err
			}

			r, err := openRepo()
			if err != nil {
				return err
			}
			stats, err := r.Compress(codec)
			if err != nil {
				return err
			}

			saved := stats.BytesBefore - stats.BytesAfter
			fmt.Printf("Rewrote %d objects with %s: %s before, %s after",
				stats.Objects, codec,
				humanize.Bytes(uint64(stats.BytesBefore)),
				humanize.Bytes(uint64(stats.BytesAfter)))
			if stats.BytesBefore > 0 && saved > 0 {
				fmt.Printf(" (saved %.1f%%)", float64(saved)/float64(stats.BytesBefore)*100)
			}
			fmt.Println()
			return nil
		},
	}

	var verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check that every referenced object is present and intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			report := r.Verify()

			if len(report.Problems) > 0 {
				red := color.New(color.FgRed).SprintFunc()
				for _, p := range report.Problems {
					fmt.Printf("%s %s\n", red("problem:"), p)
				}
				return fmt.Errorf("%d problems found", len(report.Problems))
			}
			fmt.Printf("OK: %d commits, %d objects verified\n", report.Commits, report.Blobs)
			return nil
		},
	}

	var gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Delete objects no commit or staged entry references",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			stats, err := r.GC()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d of %d objects (%s reclaimed)\n",
				stats.Removed, stats.Scanned, humanize.Bytes(uint64(stats.BytesReclaimed)))
			return nil
		},
	}

	// Flags
	commitCmd.Flags().StringP("message", "m", "", "Commit message (generated when empty)")
	logCmd.Flags().IntP("limit", "n", 0, "Show at most this many commits (0 = all)")
	diffCmd.Flags().Int("c1", 0, "First commit id (defaults to the parent of c2)")
	diffCmd.Flags().Int("c2", 0, "Second commit id (defaults to HEAD)")
	snapshotCmd.Flags().StringP("name", "n", "", "Archive name (snapshot_<unix time> when empty)")
	snapshotCmd.Flags().StringP("dir", "d", "", "Target directory (repository root when empty)")
	compressCmd.Flags().StringP("codec", "c", "", "Target codec: zstd, lz4 or none (config default when empty)")

	// Add commands to root
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(gcCmd)
}

func openRepo() (*repo.Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	r, err := repo.Open(cwd, logger)
	if err != nil {
		return nil, err
	}
	codec, err := object.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	r.SetCodec(codec)
	return r, nil
}

// truncate shortens s to at most max runes, byte slicing would split
// multi-byte characters.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func formatDelta(delta int64) string {
	if delta >= 0 {
		return "+" + humanize.Bytes(uint64(delta))
	}
	return "-" + humanize.Bytes(uint64(-delta))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		if kind := vcserr.KindOf(err); kind != "" {
			fmt.Fprintf(os.Stderr, "%s %v\n", red(string(kind)+":"), err)
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		}
		os.Exit(1)
	}
}
