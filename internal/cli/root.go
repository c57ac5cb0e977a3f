package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/kubilitics/triage.yaml"

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "triage",
		Short:         "Incident triage agent for headless commerce migrations",
		Long:          "triage turns merchant support signals into recorded incidents: it reasons about likely causes, decides within a safety policy, acts on whitelisted decisions and queues the rest for human approval.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "path to the triage config file")

	cmd.AddCommand(
		newRunCmd(a),
		newOnceCmd(a),
		newApprovalsCmd(a),
		newInsightsCmd(a),
		newReplayCmd(a),
	)
	return cmd
}
