package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/config"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store/postgres"
)

var errDryRunNeedsJobFile = errors.New("--dry-run has no projects to work on; declare them in a job file and use run")

func (a *app) importCommand() *cobra.Command {
	var spec config.JobSpec
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import dataset files into a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.dryRun {
				return errDryRunNeedsJobFile
			}
			spec.Kind = "import"
			spec.Files = args
			return a.runSingle(cmd, spec)
		},
	}

	f := cmd.Flags()
	f.Int64VarP(&spec.ProjectID, "project", "p", 0, "Project id")
	f.Int64VarP(&spec.UserID, "user", "u", 0, "User id the labels are attributed to")
	f.StringVarP(&spec.Format, "format", "f", "", "Import format, see the catalog command")
	f.StringVar(&spec.Encoding, "encoding", "", "File encoding (default from IMPORT_DEFAULT_ENCODING)")
	f.StringVar(&spec.Delimiter, "delimiter", "", `Column delimiter for csv and conll, or "tab"`)
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("format")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	var spec config.JobSpec
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a project's annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.dryRun {
				return errDryRunNeedsJobFile
			}
			spec.Kind = "export"
			return a.runSingle(cmd, spec)
		},
	}

	f := cmd.Flags()
	f.Int64VarP(&spec.ProjectID, "project", "p", 0, "Project id")
	f.StringVarP(&spec.Format, "format", "f", "", "Export format, see the catalog command")
	f.BoolVar(&spec.ConfirmedOnly, "confirmed-only", false, "Only export examples marked as confirmed")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("format")
	return cmd
}

// runSingle validates one job the same way a job file is validated and runs
// it.
func (a *app) runSingle(cmd *cobra.Command, spec config.JobSpec) error {
	jf := &config.JobFile{Jobs: []config.JobSpec{spec}}
	if err := jf.Validate(); err != nil {
		return err
	}
	return a.runJobs(cmd.Context(), cmd.OutOrStdout(), jf)
}

func (a *app) catalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [PROJECT_TYPE]",
		Short: "List the import and export formats of each project type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := catalog.All()
			if len(args) == 1 {
				t, err := project.ParseType(args[0])
				if err != nil {
					return err
				}
				def, ok := catalog.Get(t)
				if !ok {
					return fmt.Errorf("no formats registered for %s", t)
				}
				defs = []catalog.Definition{def}
			}
			return printCatalog(cmd.OutOrStdout(), defs)
		},
	}
}

func printCatalog(out io.Writer, defs []catalog.Definition) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT TYPE\tDIRECTION\tFORMAT\tCOLUMNS")
	for _, def := range defs {
		for _, imp := range def.Imports {
			cols := []string{imp.Columns.DataColumn}
			for _, lc := range imp.Columns.LabelColumns {
				cols = append(cols, lc.Name+":"+string(lc.Kind))
			}
			if imp.Columns.FileBased {
				cols = []string{"(file)"}
			}
			fmt.Fprintf(tw, "%s\timport\t%s\t%s\n", def.Type, imp.Format, strings.Join(cols, ", "))
		}
		for _, exp := range def.Exports {
			cols := []string{exp.DataColumn}
			for _, c := range exp.Columns {
				cols = append(cols, c.Name+":"+string(c.Formatter))
			}
			fmt.Fprintf(tw, "%s\texport\t%s\t%s\n", def.Type, exp.Key, strings.Join(cols, ", "))
		}
	}
	return tw.Flush()
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.dryRun {
				return errors.New("migrate has nothing to do with --dry-run")
			}
			pool, err := postgres.Connect(cmd.Context(), a.cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		},
	}
}
