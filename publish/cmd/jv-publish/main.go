package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Vaios0x/JeonseVault-sub002/publish/metrics"
)

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:        "jv-publish",
		Usage:       "deploy the JeonseVault contracts, provision their roles and hand over ownership",
		UsageText:   "jv-publish [global options] <command> [command options]",
		Description: "Global options go before the command name: jv-publish --network sepolia verify",
		Writer:      stdout,
		ErrWriter:   stderr,
		Flags:       globalFlags,
		Commands: []*cli.Command{
			commandDeploy,
			commandVerify,
			commandTransferOwnership,
			commandPlan,
			commandShow,
		},
		After: func(c *cli.Context) error {
			if err := metrics.WriteTextfile(c.String(metricsTextfileFlag.Name)); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "warning: write metrics: %v\n", err)
			}
			return nil
		},
	}
}

// Global flags. Each one wins over the environment and the config file.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML config file",
		EnvVars: []string{"JV_CONFIG"},
	}
	networkFlag = &cli.StringFlag{
		Name:    "network",
		Usage:   "network name; selects [networks.<name>] and the manifest",
		EnvVars: []string{"NETWORK"},
	}
	rpcURLFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "JSON-RPC endpoint (RPC_URL)",
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "expected chain id; the node must report the same (CHAIN_ID)",
	}
	manifestFlag = &cli.StringFlag{
		Name:  "manifest",
		Usage: "manifest path, or the DSN for the postgres backend (MANIFEST_PATH, MANIFEST_DSN)",
	}
	manifestBackendFlag = &cli.StringFlag{
		Name:  "manifest-backend",
		Usage: "manifest store: file, leveldb or postgres",
	}
	artifactsFlag = &cli.StringFlag{
		Name:  "artifacts",
		Usage: "directory of compiled contract artifacts (ARTIFACTS_DIR)",
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "key-file",
		Usage: "file holding the hex signing key; defaults to PRIVATE_KEY",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "trace, debug, info, warn or error (JV_LOG_LEVEL)",
		Value: "info",
	}
	metricsTextfileFlag = &cli.StringFlag{
		Name:  "metrics-textfile",
		Usage: "write prometheus metrics to this file on exit",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "overall deadline for the command",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}

	globalFlags = []cli.Flag{
		configFlag,
		networkFlag,
		rpcURLFlag,
		chainIDFlag,
		manifestFlag,
		manifestBackendFlag,
		artifactsFlag,
		keyFileFlag,
		logLevelFlag,
		metricsTextfileFlag,
		timeoutFlag,
	}
)

// globalFlagHint is every command's OnUsageError: a global option given
// after the command name is reported with where it belongs.
func globalFlagHint(_ *cli.Context, err error, _ bool) error {
	for _, f := range globalFlags {
		for _, name := range f.Names() {
			if strings.HasSuffix(err.Error(), " -"+name) {
				return fmt.Errorf("%w: --%s is a global option and goes before the command name", err, name)
			}
		}
	}
	return err
}

func main() {
	// A missing .env is normal; PRIVATE_KEY may come from the real environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code: 0 on
// success, 1 on any error, failed verification included.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := newApp(stdout, stderr).RunContext(ctx, args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
