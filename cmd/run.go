package cmd

import (
	"github.com/hypera/hypera/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string // Path of the run configuration
	runSeed    uint64 // Overrides the seed of the configuration
	journal    string // Overrides the journal path of the configuration
	resumeFrom string // Coordinator checkpoint to resume from
	savePath   string // Where to save the coordinator after the run
)

// runCmd drives a training run from a configuration file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a training run tuned by agents",
	Run: func(cmd *cobra.Command, args []string) {
		c := config.Default()
		if configPath != "" {
			var err error
			if c, err = config.Load(configPath); err != nil {
				logrus.Fatalf("Could not load configuration: %v", err)
			}
		}
		if cmd.Flags().Changed("seed") {
			c.Seed = runSeed
		}
		if journal != "" {
			c.Journal = journal
		}

		run, err := config.Build(c)
		if err != nil {
			logrus.Fatalf("Could not build run: %v", err)
		}
		defer run.Close()

		if resumeFrom != "" {
			if run.Coordinator == nil {
				logrus.Fatalf("Cannot resume: no segmentation agents configured")
			}
			if !run.Coordinator.Load(resumeFrom) {
				logrus.Warnf("Could not fully restore agents from %v", resumeFrom)
			}
		}

		if err := run.Experiment.Run(); err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		if err := run.Experiment.Save(); err != nil {
			logrus.Errorf("Could not save tracked data: %v", err)
		}

		for _, a := range run.Hyper {
			logrus.Infof("final %v: %v", a.Key(), []float64(a.Value()))
		}
		if run.Coordinator != nil {
			logrus.Infof("final agent weights: %v", run.Coordinator.Weights())
			if savePath != "" {
				if err := run.Coordinator.Save(savePath); err != nil {
					logrus.Fatalf("Could not save agents: %v", err)
				}
			}
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path of the YAML run configuration (defaults if empty)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed of the run, overriding the configuration")
	runCmd.Flags().StringVar(&journal, "journal", "", "Path of the SQLite audit journal, overriding the configuration")
	runCmd.Flags().StringVar(&resumeFrom, "resume", "", "Coordinator file to restore segmentation agents from")
	runCmd.Flags().StringVar(&savePath, "save", "", "Coordinator file to save segmentation agents to after the run")
}
