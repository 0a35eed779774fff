package bundle

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/cardano"
)

// Service runs holder analysis and scoring for a policy.
type Service struct {
	analyzer *HolderAnalyzer
	scorer   *Scorer
	inflight singleflight.Group
}

// NewService wires a Service over client.
func NewService(client blockfrost.Client, analyzer AnalyzerConfig, scorer ScorerConfig, opts ...AnalyzerOption) *Service {
	return &Service{
		analyzer: NewHolderAnalyzer(client, analyzer, opts...),
		scorer:   NewScorer(scorer),
	}
}

// Detect validates policyID and produces its bundle report. Identical
// concurrent calls share one run.
func (s *Service) Detect(ctx context.Context, policyID string) (*Report, error) {
	policyID = strings.TrimSpace(policyID)
	if !cardano.IsPolicyID(policyID) {
		return nil, apperr.Validation("Invalid policy ID. Must be 56 characters long.")
	}
	policyID = strings.ToLower(policyID)

	v, err, _ := s.inflight.Do(policyID, func() (any, error) {
		return s.detect(context.WithoutCancel(ctx), policyID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (s *Service) detect(ctx context.Context, policyID string) (*Report, error) {
	start := time.Now()

	sample, err := s.analyzer.Analyze(ctx, policyID)
	if err != nil {
		return nil, err
	}

	report := s.scorer.Score(ScoreInput{
		PolicyID:              policyID,
		Holders:               sample.Holders,
		PolicyAssetCount:      sample.PolicyAssetCount,
		TransactionsInspected: sample.TransactionsInspected,
	})
	report.SampleAsset = sample.SampleAsset
	report.HolderSource = sample.Source

	log.Info().
		Str("policy", policyID).
		Int("holders", report.HoldersAnalyzed).
		Int("txs_inspected", sample.TransactionsInspected).
		Int("txs_failed", sample.TransactionsFailed).
		Int("risk_score", report.RiskScore).
		Bool("bundle_detected", report.BundleDetected).
		Dur("elapsed", time.Since(start)).
		Msg("bundle: analysis complete")

	return &report, nil
}
