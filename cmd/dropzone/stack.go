package main

import (
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// stack wraps `docker compose -f <file>` for the services in docker-compose.yml.
type stack struct {
	file string
}

func newStackCmd() *cobra.Command {
	s := &stack{}
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose stack (postgres, redis, minio, server, worker)",
	}
	cmd.PersistentFlags().StringVarP(&s.file, "compose-file", "f", "docker-compose.yml", "compose file")
	cmd.AddCommand(s.upCmd(), s.downCmd(), s.logsCmd())
	return cmd
}

func (s *stack) upCmd() *cobra.Command {
	var foreground, noBuild bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Build and start services",
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags []string
			if !noBuild {
				flags = append(flags, "--build")
			}
			if !foreground {
				flags = append(flags, "--detach")
			}
			return s.compose(cmd, "up", flags, args)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "stay attached to service output")
	cmd.Flags().BoolVar(&noBuild, "no-build", false, "start from existing images")
	return cmd
}

func (s *stack) downCmd() *cobra.Command {
	var volumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var flags []string
			if volumes {
				flags = append(flags, "--volumes")
			}
			return s.compose(cmd, "down", flags, nil)
		},
	}
	cmd.Flags().BoolVar(&volumes, "volumes", false, "also drop the postgres and minio volumes (every stored share)")
	return cmd
}

func (s *stack) logsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Print service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags []string
			if follow {
				flags = append(flags, "--follow")
			}
			return s.compose(cmd, "logs", flags, args)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "keep streaming")
	return cmd
}

func (s *stack) compose(cmd *cobra.Command, sub string, flags, services []string) error {
	args := append([]string{"compose", "-f", s.file, sub}, flags...)
	return passthrough(cmd, "docker", append(args, services...)...)
}

func newGoTestCmd() *cobra.Command {
	var race, integration bool
	cmd := &cobra.Command{
		Use:   "test [package...]",
		Short: "Run the Go test suite (./... by default)",
		RunE: func(cmd *cobra.Command, pkgs []string) error {
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			args := []string{"test"}
			if race {
				args = append(args, "-race")
			}
			if integration {
				// The Postgres repository tests start a container through testcontainers.
				os.Setenv("TEST_INTEGRATION", "1")
			}
			return passthrough(cmd, "go", append(args, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "enable the race detector")
	cmd.Flags().BoolVar(&integration, "integration", false, "include tests that need Docker")
	return cmd
}

// passthrough runs name with the command's stdio attached and stops it when
// the command context is cancelled.
func passthrough(cmd *cobra.Command, name string, args ...string) error {
	c := exec.CommandContext(cmd.Context(), name, args...)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	return c.Run()
}
