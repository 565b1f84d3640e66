package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tabletraft/raft/raft"
	"github.com/tabletraft/raft/raftfake"
)

func newDemoCmd() *cobra.Command {
	var peerCount int
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an in-process replication group and report its leader",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v := viper.GetInt("peers"); v > 0 {
				peerCount = v
			}
			return runDemo(cmd.Context(), peerCount, duration)
		},
	}
	cmd.Flags().IntVar(&peerCount, "peers", 3, "number of voters in the demo tablet")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run before exiting")
	return cmd
}

func runDemo(ctx context.Context, peerCount int, duration time.Duration) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("raftctl: build logger: %w", err)
	}
	defer logger.Sync()

	net := raftfake.NewNetwork()
	members := make([]raft.PeerInfo, peerCount)
	for i := range members {
		members[i] = raft.PeerInfo{UUID: raft.PeerId(fmt.Sprintf("peer-%d", i)), MemberType: raft.VOTER}
	}
	cfg := raft.RaftConfig{Members: members}

	replicas := make([]*raft.RaftConsensus, peerCount)
	for i, m := range members {
		replica := raft.NewRaftConsensus(
			"demo-tablet",
			&raftfake.Log{},
			&raftfake.TransactionFactory{},
			raftfake.NewMetadataStore(),
			raftfake.NewProxyFactory(net, m.UUID),
			raft.WithLogger(logger.Named(string(m.UUID))),
		)
		net.Register(m.UUID, replica)
		if err := replica.Start(raft.BootstrapInfo{
			Tablet:        "demo-tablet",
			SelfUUID:      m.UUID,
			InitialConfig: cfg,
		}); err != nil {
			return fmt.Errorf("raftctl: start %s: %w", m.UUID, err)
		}
		replicas[i] = replica
	}
	defer func() {
		for _, r := range replicas {
			r.Shutdown()
		}
	}()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		for _, r := range replicas {
			if r.IsCertainlyLeader() {
				fmt.Printf("leader: %s term: %d\n", r.LeaderUUID(), r.CurrentTerm())
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}
