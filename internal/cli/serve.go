package cli

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/server"
)

var (
	serveAddr     string
	serveSchedule string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve digests over HTTP, optionally generating them on a schedule",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron spec for scheduled runs (default: server.schedule)")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	gen, err := a.generator()
	if err != nil {
		return err
	}

	addr := firstNonEmpty(serveAddr, a.cfg.Server.Addr)
	schedule := firstNonEmpty(serveSchedule, a.cfg.Server.Schedule)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(gen, a.logger)

	if schedule != "" {
		loc, err := a.cfg.Digest.Location()
		if err != nil {
			return err
		}
		c, err := srv.Schedule(ctx, schedule, loc, a.cfg.Server.Output)
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		fmt.Printf("Scheduled digests with %q (%s), writing %s\n", schedule, loc, a.cfg.Server.Output)
	}

	fmt.Printf("Listening on %s\n", addr)
	return srv.ListenAndServe(ctx, addr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
