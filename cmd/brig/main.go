package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"brig/internal/compare"
	"brig/internal/config"
	"brig/internal/logging"
	"brig/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "brig",
	Short: "brig inspects snapshots and deltas of a bridged repository",
	Long: `brig is the inspection tool for the foreign-tree bridge: it opens
historical snapshots with stable identities, lists their entries and
classifies the differences between any two commits.`,
}

func openRepo() (*repo.Repository, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := repo.FindRoot(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load("")
	if err != nil {
		cfg = config.Default()
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return repo.Open(root, cfg, log.Logger)
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new brig repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			if err := repo.Init(dir); err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			fmt.Println("Initialized empty brig repository in", dir)
			return nil
		},
	}

	var lsCmd = &cobra.Command{
		Use:   "ls [commit]",
		Short: "List the entries of a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			commitID := ""
			if len(args) == 1 {
				commitID = args[0]
			} else if commitID, err = r.Head(); err != nil {
				return err
			}
			tree, err := r.OpenSnapshot(commitID)
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			it, err := tree.ListEntries("", true, false)
			if err != nil {
				return err
			}
			for {
				pe, ok, err := it.Next()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				fmt.Printf("%-10s %s\n", pe.Entry.Kind, pe.Path)
			}
		},
	}

	var wantUnchanged bool
	var includeRoot bool
	var diffCmd = &cobra.Command{
		Use:   "diff <old-commit> <new-commit> [paths...]",
		Short: "Classify the differences between two snapshots",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			oldTree, err := r.OpenSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("opening old snapshot: %w", err)
			}
			newTree, err := r.OpenSnapshot(args[1])
			if err != nil {
				return fmt.Errorf("opening new snapshot: %w", err)
			}
			opts := compare.Options{
				WantUnchanged: wantUnchanged,
				IncludeRoot:   includeRoot,
			}
			if len(args) > 2 {
				opts.SpecificFiles = args[2:]
			}
			delta, err := r.Compare(oldTree, newTree, opts)
			if err != nil {
				return fmt.Errorf("comparing snapshots: %w", err)
			}
			printDelta(delta)
			return nil
		},
	}
	diffCmd.Flags().BoolVar(&wantUnchanged, "unchanged", false, "also report unchanged entries")
	diffCmd.Flags().BoolVar(&includeRoot, "include-root", false, "report changes at the tree root")

	var idCmd = &cobra.Command{
		Use:   "id <commit> <path>",
		Short: "Resolve the durable id of a path in a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			tree, err := r.OpenSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			id, err := tree.LookupID(args[1])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, lsCmd, diffCmd, idCmd)
}

func printDelta(delta *compare.Delta) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	for _, c := range delta.Added {
		fmt.Printf("%s  %s\n", green("A"), c.NewPath)
	}
	for _, c := range delta.Removed {
		fmt.Printf("%s  %s\n", red("D"), c.OldPath)
	}
	for _, c := range delta.Renamed {
		fmt.Printf("%s  %s -> %s\n", cyan("R"), c.OldPath, c.NewPath)
	}
	for _, c := range delta.KindChanged {
		fmt.Printf("%s  %s (%s -> %s)\n", yellow("K"), c.OldPath, c.OldKind, c.NewKind)
	}
	for _, c := range delta.Modified {
		fmt.Printf("%s  %s\n", yellow("M"), c.NewPath)
	}
	for _, c := range delta.Unchanged {
		fmt.Printf("   %s\n", c.NewPath)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
