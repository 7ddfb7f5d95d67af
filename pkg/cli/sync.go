package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// cmdSync runs one sync in the foreground. It honours the same lock as the
// server, so a run already in progress elsewhere makes it fail.
func cmdSync() *cli.Command {
	var actor string
	var engineCfg engineConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "actor",
			Usage:       "Actor recorded in the audit trail",
			Value:       "cli",
			Sources:     cli.EnvVars("SWITCHBOARD_ACTOR"),
			Destination: &actor,
		},
	}
	flags = append(flags, engineCfg.Flags()...)

	return &cli.Command{
		Name:      "sync",
		Usage:     "Run a sync once and wait for it (users, rooms, memberships, full)",
		ArgsUsage: "<type>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one sync type is required", goerr.V("args", c.Args().Slice()))
			}
			syncType, err := types.ParseSyncType(c.Args().First())
			if err != nil {
				return goerr.Wrap(err, "invalid sync type")
			}

			eng, err := engineCfg.build(ctx)
			if err != nil {
				return err
			}
			defer eng.close()
			defer shutdownUseCases(eng.uc, 10*time.Second)

			logger := logging.Default()
			logger.Info("Running sync", "type", syncType, "actor", actor)

			run, err := eng.uc.Sync.RunSync(ctx, syncType, types.TriggerManual, actor)
			if err != nil {
				return goerr.Wrap(err, "sync failed", goerr.V("type", syncType))
			}

			logger.Info("Sync finished",
				"type", run.Type,
				"status", run.Status,
				"mode", run.Mode,
				"seen", run.ItemsSeen,
				"processed", run.ItemsProcessed,
				"skipped", run.ItemsSkipped,
				"low_confidence", run.LowConfidence,
				"duration", run.Duration().String(),
			)
			if run.Status != types.SyncStatusCompleted {
				return goerr.New("sync did not complete", goerr.V("status", run.Status), goerr.V("error", run.Error))
			}
			return nil
		},
	}
}
