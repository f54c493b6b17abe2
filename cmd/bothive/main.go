package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"bothive/engine/internal/app"
	"bothive/engine/internal/config"
	"bothive/engine/internal/engine"
	"bothive/engine/internal/host/hosttest"
)

var rootCmd = &cobra.Command{
	Use:   "bothive",
	Short: "bothive - autonomous NPC population engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine against a simulated host",
	Long: `Runs the full engine loop against the built-in in-memory host
simulation. Embedding the engine in a real game server replaces the
simulated seams with live ones; everything else is identical.`,
	RunE: runServe,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Write the JSON Schema for the data catalog file",
	RunE:  runSchema,
}

var (
	envFileFlag    string
	listenFlag     string
	simPlayersFlag int
	schemaOutFlag  string
)

func init() {
	serveCmd.Flags().StringVar(&envFileFlag, "env-file", "", "optional .env file to load")
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "operator listen address (overrides config)")
	serveCmd.Flags().IntVar(&simPlayersFlag, "sim-players", 4, "simulated real players spread over the starter zones")
	schemaCmd.Flags().StringVar(&schemaOutFlag, "out", "", "path to write the JSON schema")
	rootCmd.AddCommand(serveCmd, schemaCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fake := hosttest.New()
	if simPlayersFlag > 0 {
		half := simPlayersFlag / 2
		fake.RealPlayers = map[uint32]int{
			12: simPlayersFlag - half,
			14: half,
		}
	}

	return app.Run(ctx, app.Config{
		Seams: engine.Host{
			Catalog:   fake,
			Mutator:   fake,
			Presence:  fake,
			Census:    fake,
			Inspector: fake,
			Submitter: fake,
			Events:    fake,
		},
		EnvFile:    envFileFlag,
		ListenAddr: listenFlag,
	})
}

func runSchema(_ *cobra.Command, _ []string) error {
	if schemaOutFlag == "" {
		return fmt.Errorf("--out is required")
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(config.Catalog))
	schema.Title = "Bothive Data Catalog"
	schema.Description = "Validates zone placements and level bracket targets in the catalog file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(schemaOutFlag), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := schemaOutFlag + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, schemaOutFlag); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
