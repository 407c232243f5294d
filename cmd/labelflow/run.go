package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/labelflow/internal/config"
	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/importer"
)

// errJobsFailed is returned when at least one job of a run failed.
var errJobsFailed = errors.New("one or more jobs failed")

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run JOBFILE",
		Short: "Run the import and export jobs of a YAML job file",
		Long: `Run every job of a YAML job file in order.

With --dry-run the projects declared in the file are created in an
in-memory store, which makes the file self-contained: imports are parsed
and checked, exports are written, and nothing touches the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jf, err := config.LoadJobFile(args[0])
			if err != nil {
				return err
			}
			// Job file paths are relative to the file itself.
			base := filepath.Dir(args[0])
			for i := range jf.Jobs {
				for j, f := range jf.Jobs[i].Files {
					if !filepath.IsAbs(f) {
						jf.Jobs[i].Files[j] = filepath.Join(base, f)
					}
				}
			}
			return a.runJobs(cmd.Context(), cmd.OutOrStdout(), jf)
		},
	}
}

// runJobs runs jobs one after another and prints a summary line per job.
// A failed job does not stop the run.
func (a *app) runJobs(ctx context.Context, out io.Writer, jf *config.JobFile) error {
	if a.flags.dryRun && len(jf.Projects) == 0 {
		return errors.New("--dry-run needs projects declared in the job file")
	}
	st, closeStore, err := a.openStore(ctx, jf.Projects)
	if err != nil {
		return err
	}
	defer closeStore()
	svc := a.newService(st)

	failed := 0
	for i, spec := range jf.Jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := a.runJob(ctx, svc, spec)
		if err != nil {
			failed++
			fmt.Fprintf(out, "job %d (%s %s): %s\n", i+1, spec.Kind, spec.Format, jobError(err))
			a.logger.Error("job rejected", "index", i, "kind", spec.Kind, "error", err)
			continue
		}
		if res.Error != "" {
			failed++
		}
		printResult(out, i+1, spec, res)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, failed, len(jf.Jobs))
	}
	return nil
}

// runJob starts one job and waits for it, logging each phase change.
// Interrupting the run cancels the job; its result still comes back.
func (a *app) runJob(ctx context.Context, svc *core.Service, spec config.JobSpec) (*core.JobResult, error) {
	var (
		id  string
		err error
	)
	switch spec.Kind {
	case "import":
		uploads := make([]importer.Upload, len(spec.Files))
		for i, f := range spec.Files {
			uploads[i] = importer.Upload{FullPath: f, OriginalName: filepath.Base(f)}
		}
		id, err = svc.StartImport(ctx, core.ImportRequest{
			ProjectID: spec.ProjectID,
			UserID:    spec.UserID,
			Format:    spec.Format,
			Uploads:   uploads,
			Encoding:  spec.Encoding,
			Delimiter: spec.Delimiter,
			Columns:   spec.Columns,
		})
	case "export":
		id, err = svc.StartExport(ctx, core.ExportRequest{
			ProjectID:     spec.ProjectID,
			Format:        spec.Format,
			ConfirmedOnly: spec.ConfirmedOnly,
		})
	default:
		err = fmt.Errorf("unknown job kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}

	progress, err := svc.SubscribeProgress(id)
	if err != nil {
		return nil, err
	}
	var phase core.Phase
	for done := false; !done; {
		select {
		case p, ok := <-progress:
			if !ok {
				done = true
				break
			}
			if p.Phase != phase {
				phase = p.Phase
				a.logger.Info("job progress",
					"job_id", id,
					"phase", p.Phase,
					"file", p.Filename,
					"rows", p.Rows,
				)
			}
		case <-ctx.Done():
			a.logger.Warn("interrupted, cancelling job", "job_id", id)
			svc.CancelJob(id)
			ctx = context.WithoutCancel(ctx)
		}
	}
	return svc.JobResult(ctx, id)
}

// jobError renders a rejected job. Errors without a user message are
// printed as they are, since on the command line they are the best hint.
func jobError(err error) string {
	if core.IsUserFacing(err) {
		return core.FormatUserError(err)
	}
	return err.Error()
}

func printResult(out io.Writer, n int, spec config.JobSpec, res *core.JobResult) {
	prefix := fmt.Sprintf("job %d (%s %s)", n, spec.Kind, spec.Format)
	switch {
	case res.Error != "":
		fmt.Fprintf(out, "%s: failed: %s\n", prefix, res.Error)
	case res.Import != nil:
		fmt.Fprintf(out, "%s: %d examples, %d labels, %d errors in %s\n",
			prefix, res.Import.Examples, res.Import.Labels, len(res.Import.Errors), res.Duration.Round(time.Millisecond))
		for _, e := range res.Import.Errors {
			fmt.Fprintf(out, "  %s\n", e.Error())
		}
	case res.Export != nil:
		fmt.Fprintf(out, "%s: %d rows written to %s\n", prefix, res.Export.Rows, res.Export.Path)
		for _, e := range res.Export.Errors {
			fmt.Fprintf(out, "  skipped %s\n", e.Error())
		}
	}
}
