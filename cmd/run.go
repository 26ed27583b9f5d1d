package cmd

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmroute/gemini-bridge/internal/process"
)

var runCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "Run a command against the bridge",
	Long:  `Start the bridge service if needed and run the given command with OPENAI_BASE_URL pointed at it.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	serviceStartedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	env := os.Environ()
	env = filterEnv(env, "OPENAI_BASE_URL")
	env = filterEnv(env, "OPENAI_API_KEY")

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "bridge"
	}

	env = append(env, "OPENAI_API_KEY="+apiKey)
	env = append(env, "OPENAI_BASE_URL=http://"+cfg.Host+":"+strconv.Itoa(cfg.Port)+"/v1")

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		// Only stop the service when we started it and nothing else
		// still uses it.
		if serviceStartedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			procMgr.Stop()
		}
	}()

	child := exec.Command(args[0], args[1:]...)
	child.Env = env
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	return child.Run()
}

func filterEnv(env []string, key string) []string {
	var filtered []string

	prefix := key + "="
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}

	return filtered
}
