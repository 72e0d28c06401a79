// Command migrate moves data between storage engines and manages backup
// archives.
//
//	migrate migrate --source-backend sqlite --source-path old.db \
//	    --target-backend dynamodb --target-table engram --target-region us-east-1
//	migrate backup  --source-backend sqlite --source-path engram.db --out backup.json
//	migrate restore --target-backend sqlite --target-path engram.db --in backup.json
//	migrate verify  --in backup.json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/engramdb/engram/application/migration"
	domainconfig "github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/infrastructure/persistence"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const usage = `Usage: migrate <command> [flags]

Commands:
  migrate   copy all data from a source engine to a target engine
  backup    export a source engine to an archive file
  restore   import an archive file into a target engine
  verify    check an archive file's integrity without touching any engine

Run 'migrate <command> --help' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, logger, os.Args[2:])
	case "backup":
		err = runBackup(ctx, logger, os.Args[2:])
	case "restore":
		err = runRestore(ctx, logger, os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit codes so scripts can branch on
// the failure class
func exitCode(err error) int {
	switch {
	case pkgerrors.IsValidation(err):
		return 2
	case pkgerrors.IsIntegrity(err):
		return 3
	case pkgerrors.IsConnection(err):
		return 4
	default:
		return 1
	}
}

// backendFlags registers the engine-selection flags for one side of a
// migration, prefixed with the role (source or target)
func backendFlags(fs *pflag.FlagSet, role string) *persistence.BackendConfig {
	cfg := &persistence.BackendConfig{}
	fs.StringVar(&cfg.Type, role+"-backend", persistence.BackendSQLite, "engine type: sqlite, dynamodb, or remote")
	fs.StringVar(&cfg.Path, role+"-path", "", "sqlite database path")
	fs.StringVar(&cfg.Table, role+"-table", "", "dynamodb table name")
	fs.StringVar(&cfg.Region, role+"-region", "", "dynamodb aws region")
	fs.StringVar(&cfg.Endpoint, role+"-endpoint", "", "remote server base url, or dynamodb endpoint override")
	fs.StringVar(&cfg.Token, role+"-token", "", "remote server bearer token")
	return cfg
}

func optionFlags(fs *pflag.FlagSet) (*migration.Options, *bool, *bool) {
	opts := migration.DefaultOptions()
	fs.BoolVar(&opts.DryRun, "dry-run", false, "stop after export validation, write nothing to the target")
	fs.BoolVar(&opts.SkipDuplicates, "skip-duplicates", false, "skip records that already exist in the target")
	fs.IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "export page size")
	fs.IntVar(&opts.SampleSize, "sample-size", opts.SampleSize, "records spot-checked during verification")
	noVerify := fs.Bool("no-verify", false, "skip post-import verification")
	noRollback := fs.Bool("no-rollback", false, "leave partial data in the target on failure")
	return &opts, noVerify, noRollback
}

func openStore(ctx context.Context, cfg *persistence.BackendConfig, logger *zap.Logger) (abstractions.GraphStore, error) {
	store, err := persistence.NewGraphStore(*cfg, domainconfig.DefaultDomainConfig(), logger)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func runMigrate(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	source := backendFlags(fs, "source")
	target := backendFlags(fs, "target")
	opts, noVerify, noRollback := optionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Verify = !*noVerify
	opts.RollbackOnFailure = !*noRollback

	sourceStore, err := openStore(ctx, source, logger)
	if err != nil {
		return err
	}
	defer sourceStore.Close(ctx)

	targetStore, err := openStore(ctx, target, logger)
	if err != nil {
		return err
	}
	defer targetStore.Close(ctx)

	// The manager initializes the target schema itself, after the dry-run
	// exit, so --dry-run never touches the target.
	result, err := migration.NewManager(logger, nil).Migrate(ctx, sourceStore, targetStore, *opts)
	if result != nil {
		printResult(result)
	}
	return err
}

func runBackup(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("backup", pflag.ExitOnError)
	source := backendFlags(fs, "source")
	out := fs.String("out", "engram-backup.json", "archive output path")
	batchSize := fs.Int("batch-size", 1000, "export page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, source, logger)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	archive, err := migration.Export(ctx, store, *batchSize)
	if err != nil {
		return err
	}

	file, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := archive.Write(file); err != nil {
		return err
	}
	logger.Info("backup written",
		zap.String("path", *out),
		zap.Int64("memories", archive.Integrity.MemoryCount),
		zap.Int64("relationships", archive.Integrity.RelationshipCount))
	return nil
}

func runRestore(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := pflag.NewFlagSet("restore", pflag.ExitOnError)
	target := backendFlags(fs, "target")
	in := fs.String("in", "", "archive input path")
	opts, noVerify, noRollback := optionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Verify = !*noVerify
	opts.RollbackOnFailure = !*noRollback

	if *in == "" {
		return pkgerrors.NewValidationError("--in is required")
	}
	file, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer file.Close()

	archive, err := migration.Load(file)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, target, logger)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	result, err := migration.NewManager(logger, nil).Restore(ctx, store, archive, *opts)
	if result != nil {
		printResult(result)
	}
	return err
}

func runVerify(args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ExitOnError)
	in := fs.String("in", "", "archive input path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return pkgerrors.NewValidationError("--in is required")
	}

	file, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer file.Close()

	archive, err := migration.Load(file)
	if err != nil {
		return err
	}
	fmt.Printf("archive ok: format v%d, engine %s, %d memories, %d relationships\n",
		archive.FormatVersion, archive.Engine,
		archive.Integrity.MemoryCount, archive.Integrity.RelationshipCount)
	return nil
}

func printResult(r *migration.Result) {
	fmt.Printf("phase:         %s\n", r.Phase)
	fmt.Printf("memories:      %d migrated, %d skipped\n", r.MemoriesMigrated, r.MemoriesSkipped)
	fmt.Printf("relationships: %d migrated, %d skipped\n", r.RelationshipsMigrated, r.RelationshipsSkipped)
	fmt.Printf("duration:      %s\n", r.Duration)
	if r.DryRun {
		fmt.Println("dry run: target not modified")
	}
	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
