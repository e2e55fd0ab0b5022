package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fiscalhost/internal/config"
	"fiscalhost/internal/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Aplica las migraciones de la base de datos",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		gooseCmd("up", "Aplica todas las migraciones pendientes"),
		gooseCmd("down", "Revierte la última migración"),
		gooseCmd("status", "Muestra el estado de cada migración"),
	)
	return root
}

func gooseCmd(command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGoose(cmd.Context(), command)
		},
	}
}

func runGoose(ctx context.Context, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	logger.Info("running migrations", zap.String("command", command))
	if err := db.Migrate(ctx, pool, command); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}
