// Package core runs dataset import and export jobs for annotation projects.
//
// It is independent of any transport and is used by the HTTP server, the
// CLI and tests alike.
//
// # Jobs
//
// [Service.StartImport] and [Service.StartExport] validate their request,
// take a slot from the [JobLimiter] and run the job in the background. The
// caller gets a job id back at once:
//
//	id, err := svc.StartImport(ctx, core.ImportRequest{
//	    ProjectID: 1,
//	    UserID:    7,
//	    Format:    "jsonl",
//	    Uploads:   []importer.Upload{{FullPath: "/data/train.jsonl"}},
//	})
//
// Progress is broadcast to subscribers via [Service.SubscribeProgress]
// through the phases starting, reading, cleaning, persisting (imports) or
// exporting (exports), ending in complete, failed or cancelled. Finished
// jobs stay queryable through [Service.JobResult] for the result TTL.
//
// Configuration problems (unknown project, format not available for the
// project type, unknown encoding) fail synchronously. Problems with single
// records never fail a job; they are listed in the import result.
//
// # Annotation
//
// [Service.Annotate] adds one label at runtime. It applies the same
// exclusivity and overlap rules the importer's cleaning step applies, and
// relies on storage unique constraints for concurrent writers.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code range for support reference:
//
//   - IMP001-IMP005: Import file errors (type, size, encoding, structure)
//   - VAL001-VAL003: Label, column and delimiter validation errors
//   - LBL001-LBL003: Label conflicts and unresolved references
//   - EXP001: Export write errors
//   - JOB001-JOB006: Job lifecycle errors (cancelled, timeout, busy)
//   - DB001-DB003: Database connectivity errors
package core
