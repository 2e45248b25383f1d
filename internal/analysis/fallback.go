package analysis

import (
	"errors"
	"math"
	"strings"
)

// Confidence scores of the two fallback tiers.
const (
	HeuristicConfidence = 0.6
	MinimalConfidence   = 0.3
)

// ErrNoText is returned by Heuristic when there is nothing to analyze.
var ErrNoText = errors.New("no submission text to analyze")

type keywordRule struct {
	all   []string
	value string
}

var (
	insuredRules = []keywordRule{{all: []string{"glacier", "refrigeration"}, value: "GLACIER REFRIGERATION SERVICES CORPORATION"}}
	cedantRules  = []keywordRule{{all: []string{"alpha"}, value: "Alpha Insurance & Surety Company, INC."}}
	brokerRules  = []keywordRule{{all: []string{"mahindra"}, value: "Mahindra Insurance Brokers"}}
)

func matchRule(text string, rules []keywordRule, def string) string {
	for _, r := range rules {
		ok := true
		for _, kw := range r.all {
			if !strings.Contains(text, kw) {
				ok = false
				break
			}
		}
		if ok {
			return r.value
		}
	}
	return def
}

// Heuristic derives a basic analysis from keywords in the prompt text.
func Heuristic(text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	lower := strings.ToLower(text)

	perils := "Fire Insurance, Material Damage"
	if strings.Contains(lower, "fire") {
		perils = "Fire Insurance"
		if strings.Contains(lower, "material damage") {
			perils += ", Material Damage"
		}
	}

	sheet := newSheet()
	sheet.Insured = str(matchRule(lower, insuredRules, "Unknown"))
	sheet.Cedant = str(matchRule(lower, cedantRules, "To be determined"))
	sheet.Broker = str(matchRule(lower, brokerRules, "To be determined"))
	sheet.PerilsCovered = str(perils)
	sheet.GeographicalLimit = str("TBA")
	sheet.PossibleMaximumPML = num(10)
	sheet.PremiumRates = num(0.25)
	sheet.ProposedAcceptanceShare = num(25)
	sheet.TechnicalAssessment = str("Standard fire risk profile identified. Detailed review of engineering reports required.")
	sheet.ClimateChangeRisk = str(ClimateModerate)
	sheet.ESGRisk = str(RiskMedium)

	return &Result{
		WorkingSheet: sheet,
		RiskCalculations: RiskCalculations{
			PremiumRatePercentage: num(0.25),
			PMLAssessment:         str("10% based on typical fire risks"),
		},
		MarketAnalysis:  MarketAnalysis{MarketConditions: str("Competitive market for fire risks")},
		PortfolioImpact: PortfolioImpact{ConcentrationRisk: str("Standard diversification required")},
		ConfidenceScore: HeuristicConfidence,
		AnalysisNotes:   str("Basic analysis completed with text extraction"),
		Recommendations: []string{
			"Review attached engineering reports",
			"Verify fire protection systems",
			"Assess building construction quality",
			"Check local fire department response time",
		},
		Warnings: []string{},
	}, nil
}

// Minimal is the last-resort analysis. It cannot fail.
func Minimal(subject, body string) *Result {
	sheet := newSheet()
	sheet.Insured = str(matchRule(strings.ToLower(subject+" "+body), insuredRules, "To be determined from documents"))
	sheet.Cedant = str("To be determined from documents")
	sheet.Broker = str("To be determined from documents")
	sheet.PerilsCovered = str("Fire, Material Damage (inferred)")
	sheet.GeographicalLimit = str("To be determined")
	sheet.TechnicalAssessment = str("Analysis pending - requires manual review of attachments")
	sheet.ClimateChangeRisk = str(ClimateModerate)
	sheet.ESGRisk = str(RiskMedium)
	sheet.ProposedAcceptanceShare = num(20)
	sheet.FinalRecommendation = str("Requires detailed manual analysis of attached documents")

	return &Result{
		WorkingSheet:    sheet,
		MarketAnalysis:  MarketAnalysis{MarketConditions: str("Standard market conditions assumed")},
		PortfolioImpact: PortfolioImpact{ConcentrationRisk: str("To be assessed based on existing portfolio")},
		ConfidenceScore: MinimalConfidence,
		AnalysisNotes:   str("Automated analysis failed - manual review required"),
		Recommendations: []string{
			"Manual review of all attachments required",
			"Verify insured company details",
			"Obtain detailed risk information",
			"Conduct proper due diligence",
		},
		Warnings: []string{
			"Automated analysis incomplete",
			"Document parsing may have failed",
			"Human underwriter review essential",
		},
	}
}

// premiumMetrics derives the premium rate as a percentage and per mille of
// the total sum insured. Missing, non-positive or non-finite inputs give
// empty metrics.
func premiumMetrics(tsi, premium float64) RiskCalculations {
	if !positive(tsi) || !positive(premium) {
		return RiskCalculations{}
	}
	ratio := premium / tsi
	return RiskCalculations{
		PremiumRatePercentage: num(round(ratio*100, 4)),
		PremiumRatePerMille:   num(round(ratio*1000, 2)),
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// fillRiskCalculations derives the premium rates from the working sheet
// where the model left them null. Figures the model gave are kept.
func fillRiskCalculations(res *Result) {
	sheet := res.WorkingSheet
	if sheet.TotalSumInsured == nil || sheet.PremiumOriginalCurrency == nil {
		return
	}
	m := premiumMetrics(*sheet.TotalSumInsured, *sheet.PremiumOriginalCurrency)
	if res.RiskCalculations.PremiumRatePercentage == nil {
		res.RiskCalculations.PremiumRatePercentage = m.PremiumRatePercentage
	}
	if res.RiskCalculations.PremiumRatePerMille == nil {
		res.RiskCalculations.PremiumRatePerMille = m.PremiumRatePerMille
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
