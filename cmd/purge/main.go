// Command purge runs administrative deletions against the database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"roadassist/config"
	"roadassist/pkg/logger"
	"roadassist/service"
	"roadassist/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		bookingIDs []string
		expired    bool
		timeout    time.Duration
	)
	flags := pflag.NewFlagSet("purge", pflag.ContinueOnError)
	flags.StringSliceVar(&bookingIDs, "booking", nil, "booking id to delete with its chat (repeatable)")
	flags.BoolVar(&expired, "expired-notifications", false, "delete notifications past their expiry")
	flags.DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if len(bookingIDs) == 0 && !expired {
		flags.Usage()
		return fmt.Errorf("nothing to do")
	}

	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LoggerLevel)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pg, err := postgres.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	svc := service.New(pg, cfg, log)
	for _, id := range bookingIDs {
		if err := svc.Booking().Purge(ctx, service.SystemActor, id); err != nil {
			return fmt.Errorf("booking %s: %w", id, err)
		}
		log.Info("booking purged", logger.String("booking_id", id))
	}
	if expired {
		n, err := svc.Notification().PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired notifications\n", n)
	}
	return nil
}
