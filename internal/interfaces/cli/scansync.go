package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/bootstrap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Syncer runs one reconciliation
type Syncer interface {
	Sync(ctx context.Context, req ingest.SyncRequest) (*ingest.SyncResult, error)
}

type scanSyncOptions struct {
	mode     string
	prefix   string
	bucket   string
	logLevel string
}

// NewScanSyncCmd builds the command that reconciles scans with a bucket
// using the server's configuration.
func NewScanSyncCmd() *cobra.Command {
	opts := &scanSyncOptions{}
	cmd := &cobra.Command{
		Use:   "scansync",
		Short: "Reconcile ingested scans with the capture bucket",
		Long: `Lists meta.json objects under the prefix and ingests every capture that is
not in the database yet. With --mode add_remove, scans under the prefix whose
capture is gone from the bucket are deleted. Prints the result as JSON.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(ingest.SyncModeAddOnly), "add_only or add_remove")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "key prefix to reconcile (default sync.default_prefix)")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "bucket to reconcile (default storage.bucket)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (default log.level)")
	return cmd
}

func (o *scanSyncOptions) run(cmd *cobra.Command) error {
	mode, err := ingest.ParseSyncMode(o.mode)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(o.logLevel)
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, env.cfg, env.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			env.log.Warn("Error releasing resources", zap.Error(err))
		}
	}()

	req := ingest.SyncRequest{
		Bucket: o.bucket,
		Prefix: o.prefix,
		Mode:   mode,
		Source: ingest.SourceCLI,
	}
	if req.Bucket == "" {
		req.Bucket = app.Storage.DefaultBucket()
	}
	if req.Prefix == "" {
		req.Prefix = env.cfg.Sync.DefaultPrefix
	}
	return runSync(ctx, app.Sync, req, cmd.OutOrStdout())
}

// runSync performs the sync and writes the indented JSON result to out
func runSync(ctx context.Context, s Syncer, req ingest.SyncRequest, out io.Writer) error {
	result, err := s.Sync(ctx, req)
	if err != nil {
		return fmt.Errorf("sync %s/%s: %w", req.Bucket, req.Prefix, err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
