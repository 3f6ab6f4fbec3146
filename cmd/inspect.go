package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hypera/hypera/experiment/tracker"
	journalpkg "github.com/hypera/hypera/journal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	hyperparameter string // Hyperparameter to list updates of
	weightsOf      string // Agent to list coordinator weights of
)

// inspectCmd prints the hyperparameter updates or agent weights
// recorded in a journal
var inspectCmd = &cobra.Command{
	Use:   "inspect <journal>",
	Short: "Print the hyperparameter updates or agent weights recorded in an audit journal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		j, err := journalpkg.Open(args[0])
		if err != nil {
			logrus.Fatalf("Could not open journal: %v", err)
		}
		defer j.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if weightsOf != "" {
			err = printWeights(w, j, weightsOf)
		} else {
			err = printUpdates(w, j, hyperparameter)
		}
		if err != nil {
			logrus.Fatalf("Could not read journal: %v", err)
		}
		if err := w.Flush(); err != nil {
			logrus.Fatalf("Could not write output: %v", err)
		}
	},
}

// returnsCmd prints the per-epoch returns saved by a run
var returnsCmd = &cobra.Command{
	Use:   "returns <file>",
	Short: "Print the per-epoch segmentation returns saved by a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		returns, err := tracker.LoadData(args[0])
		if err != nil {
			logrus.Fatalf("Could not read returns: %v", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EPOCH\tRETURN")
		for epoch, r := range returns {
			fmt.Fprintf(w, "%d\t%.6g\n", epoch, r)
		}
		if err := w.Flush(); err != nil {
			logrus.Fatalf("Could not write output: %v", err)
		}
	},
}

func printUpdates(w io.Writer, j *journalpkg.Journal, key string) error {
	records, err := j.Updates(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tEPOCH\tHYPERPARAMETER\tOLD\tNEW\tCHANGE")
	for _, r := range records {
		fmt.Fprintf(w, "%.8s\t%d\t%s\t%.6g\t%.6g\t%.3g\n", r.RunID,
			r.Epoch, r.Hyperparameter, []float64(r.OldValue),
			[]float64(r.NewValue), r.RelativeChange)
	}
	return nil
}

func printWeights(w io.Writer, j *journalpkg.Journal, agentName string) error {
	records, err := j.Weights(agentName)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTEP\tAGENT\tWEIGHT")
	for _, r := range records {
		fmt.Fprintf(w, "%.8s\t%d\t%s\t%.4f\n", r.RunID, r.Step, r.Agent,
			r.Weight)
	}
	return nil
}

func init() {
	inspectCmd.Flags().StringVar(&hyperparameter, "hyperparameter", "", "Only list updates of this hyperparameter")
	inspectCmd.Flags().StringVar(&weightsOf, "weights", "", "List the coordinator weights of this agent instead of updates")
}
