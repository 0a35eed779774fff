package trace

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Adacracker/MintTrail/internal/apperr"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
)

// Result is the trace response body.
type Result struct {
	TokenName       string    `json:"tokenName"`
	PolicyID        string    `json:"policyId"`
	AssetID         string    `json:"assetId"`
	MintTx          string    `json:"mintTx"`
	MintBlock       int64     `json:"mintBlock"`
	MintTime        string    `json:"mintTime"`
	FundingWallet   string    `json:"fundingWallet"`
	ReceivingWallet string    `json:"receivingWallet"`
	AdaFlow         []FlowHop `json:"adaFlow"`
}

// Service runs resolution and reconstruction for one token.
type Service struct {
	resolver      *Resolver
	reconstructor *Reconstructor
	inflight      singleflight.Group
}

// NewService wires a Service over client.
func NewService(client blockfrost.Client, config Config, known []KnownToken) *Service {
	return &Service{
		resolver:      NewResolver(client, known),
		reconstructor: NewReconstructor(client, config),
	}
}

// Resolver exposes the service's resolver.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Trace resolves tokenName and reconstructs its mint flow. Identical
// concurrent calls share one upstream run, which is not cancelled when a
// single caller goes away.
func (s *Service) Trace(ctx context.Context, tokenName string) (*Result, error) {
	input := strings.TrimSpace(tokenName)
	if input == "" {
		return nil, apperr.Validation("tokenName is required")
	}

	v, err, shared := s.inflight.Do(input, func() (any, error) {
		return s.trace(context.WithoutCancel(ctx), input)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("input", input).Msg("trace: coalesced with in-flight request")
	}
	return v.(*Result), nil
}

func (s *Service) trace(ctx context.Context, input string) (*Result, error) {
	start := time.Now()

	ref, _, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, err
	}

	flow, err := s.reconstructor.Reconstruct(ctx, ref)
	if err != nil {
		return nil, err
	}

	name := ref.Name()
	if name == "" {
		name = input
	}

	log.Info().
		Str("token", name).
		Str("asset", ref.AssetID).
		Str("mint_tx", flow.MintTx).
		Int("hops", len(flow.Flow)).
		Dur("elapsed", time.Since(start)).
		Msg("trace: token trace complete")

	return &Result{
		TokenName:       name,
		PolicyID:        ref.PolicyID,
		AssetID:         ref.AssetID,
		MintTx:          flow.MintTx,
		MintBlock:       flow.MintBlock,
		MintTime:        formatTime(flow.MintTime),
		FundingWallet:   flow.FundingWallet,
		ReceivingWallet: flow.ReceivingWallet,
		AdaFlow:         flow.Flow,
	}, nil
}
