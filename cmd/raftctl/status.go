package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tabletraft/raft/raft"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the effective RaftOptions for a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = viper.GetString("config")
			}
			if path == "" {
				opts := raft.DefaultOptions()
				printOptions(opts)
				return nil
			}
			opts, err := raft.LoadOptionsFile(path)
			if err != nil {
				return err
			}
			printOptions(opts)
			return nil
		},
	}
	return cmd
}

func printOptions(opts raft.RaftOptions) {
	fmt.Printf("enable_pre_elections: %v\n", opts.EnablePreElections)
	fmt.Printf("failure_detector_base_timeout: %v\n", opts.FailureDetectorBaseTimeout)
	fmt.Printf("failure_detector_max_timeout: %v\n", opts.FailureDetectorMaxTimeout)
	fmt.Printf("update_retry_min_backoff: %v\n", opts.UpdateRetryMinBackoff)
	fmt.Printf("update_retry_max_backoff: %v\n", opts.UpdateRetryMaxBackoff)
	fmt.Printf("leader_step_down_on_failed_writes: %v\n", opts.LeaderStepDownOnFailedWrites)
}
