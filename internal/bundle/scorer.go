package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Adacracker/MintTrail/internal/cardano"
)

// ---------------------------------------------------------------------------
// Risk Scorer: holder concentration to bundle risk
// ---------------------------------------------------------------------------

// Finding types.
const (
	FindingExtremeConcentration = "EXTREME_CONCENTRATION"
	FindingHighConcentration    = "HIGH_CONCENTRATION"
	FindingMediumConcentration  = "MEDIUM_CONCENTRATION"
	FindingLowDistribution      = "LOW_DISTRIBUTION"
	FindingDistribution         = "DISTRIBUTION_ANALYSIS"
	FindingLimitedData          = "LIMITED_DATA"
)

// Risk levels.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// ScorerConfig holds the scoring thresholds. Shares are percentages.
type ScorerConfig struct {
	ExtremeShare float64 `yaml:"extreme_share"`
	HighShare    float64 `yaml:"high_share"`
	MediumShare  float64 `yaml:"medium_share"`
	ExtremeScore int     `yaml:"extreme_score"`
	HighScore    int     `yaml:"high_score"`
	MediumScore  int     `yaml:"medium_score"`

	// Fewer holders than LowHolderCount adds LowDistributionScore; fewer
	// than VeryLowHolderCount raises the finding to HIGH.
	LowHolderCount       int `yaml:"low_holder_count"`
	VeryLowHolderCount   int `yaml:"very_low_holder_count"`
	LowDistributionScore int `yaml:"low_distribution_score"`

	MaxClusters  int `yaml:"max_clusters"`
	ClusterDecay int `yaml:"cluster_decay"`
	ClusterFloor int `yaml:"cluster_floor"`

	LimitedDataScore int `yaml:"limited_data_score"`
	DetectedAbove    int `yaml:"detected_above"`
}

// DefaultScorerConfig returns the production thresholds.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		ExtremeShare:         80,
		HighShare:            60,
		MediumShare:          40,
		ExtremeScore:         60,
		HighScore:            40,
		MediumScore:          25,
		LowHolderCount:       50,
		VeryLowHolderCount:   20,
		LowDistributionScore: 20,
		MaxClusters:          15,
		ClusterDecay:         5,
		ClusterFloor:         10,
		LimitedDataScore:     35,
		DetectedAbove:        30,
	}
}

// Finding is one risk observation.
type Finding struct {
	Type               string `json:"type"`
	Description        string `json:"description"`
	RiskLevel          string `json:"riskLevel"`
	SourceWallet       string `json:"sourceWallet,omitempty"`
	DistributedToCount int    `json:"distributedToCount"`
	Concentration      string `json:"concentration,omitempty"`
}

// WalletCluster is one of the largest holders with a display risk share.
type WalletCluster struct {
	Address        string `json:"address"`
	TotalReceived  string `json:"totalReceived"`
	RiskScoreShare int    `json:"riskScoreShare"`
}

// Report is the bundle analysis result.
type Report struct {
	PolicyID              string          `json:"policyId"`
	TotalMints            int             `json:"totalMints"`
	Findings              []Finding       `json:"findings"`
	WalletClusters        []WalletCluster `json:"walletClusters"`
	RiskScore             int             `json:"riskScore"`
	BundleDetected        bool            `json:"bundleDetected"`
	HoldersAnalyzed       int             `json:"holdersAnalyzed"`
	Top5Share             float64         `json:"top5Share"`
	Top10Share            float64         `json:"top10Share"`
	SampleAsset           string          `json:"sampleAsset,omitempty"`
	TransactionsInspected int             `json:"transactionsInspected"`
	HolderSource          string          `json:"holderSource,omitempty"`
}

// ScoreInput is everything the scorer looks at.
type ScoreInput struct {
	PolicyID              string
	Holders               []HolderRecord
	PolicyAssetCount      int
	TransactionsInspected int
}

// Scorer turns a holder distribution into a Report. It is stateless.
type Scorer struct {
	config ScorerConfig
}

// NewScorer creates a scorer.
func NewScorer(config ScorerConfig) *Scorer {
	return &Scorer{config: config}
}

var hundred = decimal.NewFromInt(100)

// Score computes the report for in. The input slice is not modified.
func (s *Scorer) Score(in ScoreInput) Report {
	cfg := s.config
	report := Report{
		PolicyID:              in.PolicyID,
		TotalMints:            in.PolicyAssetCount,
		Findings:              []Finding{},
		WalletClusters:        []WalletCluster{},
		HoldersAnalyzed:       len(in.Holders),
		TransactionsInspected: in.TransactionsInspected,
	}
	if report.TotalMints == 0 {
		report.TotalMints = 1
	}

	if len(in.Holders) == 0 {
		report.RiskScore = clamp(cfg.LimitedDataScore)
		report.BundleDetected = true
		report.Findings = append(report.Findings, Finding{
			Type:        FindingLimitedData,
			Description: "Limited blockchain data available - unable to perform complete analysis",
			RiskLevel:   RiskMedium,
		})
		return report
	}

	holders := append([]HolderRecord(nil), in.Holders...)
	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].Quantity.GreaterThan(holders[j].Quantity)
	})

	top5 := shareOfTop(holders, 5)
	top10 := shareOfTop(holders, 10)
	report.Top5Share = top5.Round(2).InexactFloat64()
	report.Top10Share = top10.Round(2).InexactFloat64()

	score := 0
	if f, delta, ok := s.concentrationBand(top5, holders); ok {
		score += delta
		report.Findings = append(report.Findings, f)
	}

	if n := len(holders); n < cfg.LowHolderCount {
		score += cfg.LowDistributionScore
		level := RiskMedium
		if n < cfg.VeryLowHolderCount {
			level = RiskHigh
		}
		report.Findings = append(report.Findings, Finding{
			Type:               FindingLowDistribution,
			Description:        fmt.Sprintf("Only %d unique holders - limited distribution", n),
			RiskLevel:          level,
			DistributedToCount: n,
		})
	}

	for i, h := range holders {
		if i >= cfg.MaxClusters {
			break
		}
		report.WalletClusters = append(report.WalletClusters, WalletCluster{
			Address:        h.Address,
			TotalReceived:  groupThousands(h.Quantity),
			RiskScoreShare: max(cfg.ClusterFloor, score-cfg.ClusterDecay*i),
		})
	}

	if len(report.Findings) == 0 {
		report.Findings = append(report.Findings, Finding{
			Type: FindingDistribution,
			Description: fmt.Sprintf("Analyzed %d holders and %d transactions - distribution patterns within normal parameters",
				len(holders), in.TransactionsInspected),
			RiskLevel:          RiskLow,
			DistributedToCount: len(holders),
		})
	}

	report.RiskScore = clamp(score)
	report.BundleDetected = report.RiskScore > cfg.DetectedAbove
	return report
}

// concentrationBand picks the single band top5 falls in, if any.
func (s *Scorer) concentrationBand(top5 decimal.Decimal, sorted []HolderRecord) (Finding, int, bool) {
	cfg := s.config
	var (
		kind, level string
		delta       int
	)
	switch {
	case top5.GreaterThan(decimal.NewFromFloat(cfg.ExtremeShare)):
		kind, level, delta = FindingExtremeConcentration, RiskHigh, cfg.ExtremeScore
	case top5.GreaterThan(decimal.NewFromFloat(cfg.HighShare)):
		kind, level, delta = FindingHighConcentration, RiskHigh, cfg.HighScore
	case top5.GreaterThan(decimal.NewFromFloat(cfg.MediumShare)):
		kind, level, delta = FindingMediumConcentration, RiskMedium, cfg.MediumScore
	default:
		return Finding{}, 0, false
	}

	pct := top5.StringFixed(1)
	desc := fmt.Sprintf("Top 5 wallets control %s%% of total supply", pct)
	if kind == FindingExtremeConcentration {
		desc += " - extremely high risk"
	}
	return Finding{
		Type:               kind,
		Description:        desc,
		RiskLevel:          level,
		SourceWallet:       cardano.FormatAddress(sorted[0].Address),
		DistributedToCount: len(sorted),
		Concentration:      pct + "%",
	}, delta, true
}

// shareOfTop returns the percentage of the total held by the first n of
// sorted, or zero when the total is zero.
func shareOfTop(sorted []HolderRecord, n int) decimal.Decimal {
	total := decimal.Zero
	top := decimal.Zero
	for i, h := range sorted {
		total = total.Add(h.Quantity)
		if i < n {
			top = top.Add(h.Quantity)
		}
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return top.Div(total).Mul(hundred)
}

func clamp(score int) int {
	return min(100, max(0, score))
}

// groupThousands renders an integer quantity as 1,234,567.
func groupThousands(q decimal.Decimal) string {
	digits := q.Truncate(0).Abs().String()
	var sb strings.Builder
	if q.IsNegative() {
		sb.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	sb.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		sb.WriteByte(',')
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}
