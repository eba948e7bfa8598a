/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package settlement

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is a blocking background job.
type Runner interface {
	Run(ctx context.Context) error
}

// Leadership reports and announces leadership. *leadership.Election
// satisfies it.
type Leadership interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware runs a job only while this instance is the leader.
type LeaderAware struct {
	job      Runner
	election Leadership
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware wraps job with leader gating.
func NewLeaderAware(job Runner, election Leadership, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		job:      job,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_settlement").Logger(),
	}
}

// Start begins campaigning and follows leadership changes until ctx ends.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.ctx = ctx
	la.logger.Info().Msg("starting leader-aware settlement")

	if err := la.election.Start(ctx); err != nil {
		return err
	}
	go la.monitorLeadership()
	return nil
}

// Stop halts the job and releases leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware settlement")
	la.stopJob()
	return la.election.Stop()
}

// IsLeader reports whether this instance is the leader.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

func (la *LeaderAware) monitorLeadership() {
	if la.election.IsLeader() {
		la.startJob()
	}

	leaderCh := la.election.LeaderCh()
	for {
		select {
		case <-la.ctx.Done():
			la.stopJob()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				la.logger.Info().Msg("became leader, starting settlement")
				la.startJob()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping settlement")
				la.stopJob()
			}
		}
	}
}

func (la *LeaderAware) startJob() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	stopped := make(chan struct{})
	la.cancel = cancel
	la.stopped = stopped

	go func() {
		defer close(stopped)
		if err := la.job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("settlement error")
		}
	}()
}

func (la *LeaderAware) stopJob() {
	la.mu.Lock()
	cancel, stopped := la.cancel, la.stopped
	la.cancel, la.stopped = nil, nil
	la.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
