package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const initContainerTimeout = 60 * time.Second

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var skipPostgres bool

	cmd := &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new agroflow project",
		Long:  "Creates project scaffolding and optionally starts a local Postgres container.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], skipPostgres)
		},
	}

	cmd.Flags().BoolVar(&skipPostgres, "skip-postgres", false, "Skip starting Postgres container")
	return cmd
}

func runInit(projectName string, skipPostgres bool) error {
	bold := color.New(color.Bold)

	_, _ = bold.Printf("Initializing agroflow project: %s\n", projectName)

	if err := os.MkdirAll(projectName, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", projectName, err)
	}

	configPath := filepath.Join(projectName, "agroflow.yaml")
	configContent := `database:
  host: localhost
  port: 5432
  database: agroclimate
  user: etl_user
  password: etl_password

pipeline:
  batchSize: 1000
  cropMinConfidence: 0.5
  retry:
    maxAttempts: 3
    backoffSeconds: 1

partitions:
  futureYears: 1

audit:
  staleAfter: 24h

server:
  addr: ":8080"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("  ✓ Project scaffolded")

	if !skipPostgres {
		if err := startPostgres(); err != nil {
			color.Yellow("  ⚠ Postgres setup skipped: %v", err)
			color.Yellow("    Run manually: docker run -d --name agroflow-postgres -p 5432:5432 -e POSTGRES_DB=agroclimate -e POSTGRES_USER=etl_user -e POSTGRES_PASSWORD=etl_password postgres:16")
		} else {
			color.Green("  ✓ Postgres container started")
		}
	} else {
		color.Yellow("  → Postgres setup skipped (--skip-postgres)")
	}

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  agroflow migrate")
	fmt.Println("  agroflow run --mode full")
	return nil
}

func startPostgres() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	// Reuse an existing container when one is already defined.
	checkCmd := exec.Command("docker", "inspect", "agroflow-postgres")
	if checkCmd.Run() == nil {
		startCmd := exec.Command("docker", "start", "agroflow-postgres")
		if err := startCmd.Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initContainerTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", "agroflow-postgres",
		"-p", "5432:5432",
		"-e", "POSTGRES_DB=agroclimate",
		"-e", "POSTGRES_USER=etl_user",
		"-e", "POSTGRES_PASSWORD=etl_password",
		"postgres:16",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
