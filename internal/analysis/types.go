// Package analysis produces the facultative reinsurance working sheet for a
// submission, from a language model when one is configured and from
// conservative keyword fallbacks otherwise.
package analysis

import "time"

// Risk and climate levels used in the working sheet.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"

	ClimateMinimal  = "Minimal"
	ClimateModerate = "Moderate"
	ClimateHigh     = "High"
)

// WorkingSheet is the facultative reinsurance working sheet. Unknown values
// are nil and encode as null.
type WorkingSheet struct {
	Insured             *string `json:"insured"`
	Cedant              *string `json:"cedant"`
	Broker              *string `json:"broker"`
	PerilsCovered       *string `json:"perils_covered"`
	GeographicalLimit   *string `json:"geographical_limit"`
	SituationOfRisk     *string `json:"situation_of_risk"`
	OccupationOfInsured *string `json:"occupation_of_insured"`
	MainActivities      *string `json:"main_activities"`

	TotalSumInsured    *float64           `json:"total_sum_insured"`
	TSIBreakdown       map[string]float64 `json:"tsi_breakdown"`
	ExcessDeductible   *float64           `json:"excess_deductible"`
	RetentionOfCedant  *float64           `json:"retention_of_cedant"`
	PossibleMaximumPML *float64           `json:"possible_maximum_loss_pml"`
	CatExposure        *string            `json:"cat_exposure"`
	PeriodOfInsurance  *string            `json:"period_of_insurance"`
	ReinsuranceDeduct  *float64           `json:"reinsurance_deductions"`

	ClaimsExperience []map[string]any `json:"claims_experience_last_3_years"`
	LossRatio        *float64         `json:"loss_ratio_percentage"`

	ShareOffered        *float64 `json:"share_offered"`
	InwardAcceptances   *string  `json:"inward_acceptances"`
	RiskSurveyorsReport *string  `json:"risk_surveyors_report"`

	PremiumRates            *float64 `json:"premium_rates"`
	PremiumOriginalCurrency *float64 `json:"premium_original_currency"`
	PremiumKES              *float64 `json:"premium_kes"`
	OriginalCurrency        *string  `json:"original_currency"`

	ClimateChangeRisk *string `json:"climate_change_risk_factors"`
	ESGRisk           *string `json:"esg_risk_assessment"`

	ProposedAcceptanceShare   *float64 `json:"proposed_acceptance_share"`
	LiabilityOriginalCurrency *float64 `json:"liability_original_currency"`
	LiabilityKES              *float64 `json:"liability_kes"`

	TechnicalAssessment     *string `json:"technical_assessment"`
	MarketConsiderations    *string `json:"market_considerations"`
	PortfolioImpact         *string `json:"portfolio_impact"`
	ProposedTermsConditions *string `json:"proposed_terms_conditions"`
	PositiveAssessment      *string `json:"positive_assessment"`

	FinalRecommendation        *string  `json:"final_recommendation"`
	RecommendedSharePercentage *float64 `json:"recommended_share_percentage"`

	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	AnalysisVersion   string    `json:"analysis_version"`
}

// RiskCalculations holds derived pricing figures.
type RiskCalculations struct {
	PremiumRatePercentage *float64 `json:"premium_rate_percentage"`
	PremiumRatePerMille   *float64 `json:"premium_rate_per_mille"`
	LossRatio3YearAverage *float64 `json:"loss_ratio_3_year_average"`
	AcceptedPremium       *float64 `json:"accepted_premium"`
	AcceptedLiability     *float64 `json:"accepted_liability"`
	PMLAssessment         *string  `json:"pml_assessment"`
}

type MarketAnalysis struct {
	MarketConditions   *string          `json:"market_conditions"`
	CompetitorPricing  []map[string]any `json:"competitor_pricing"`
	IndustryTrends     *string          `json:"industry_trends"`
	NegotiationFactors []string         `json:"negotiation_factors"`
	MarketCapacity     *string          `json:"market_capacity"`
}

type PortfolioImpact struct {
	ConcentrationRisk      *string            `json:"concentration_risk"`
	DiversificationBenefit *string            `json:"diversification_benefit"`
	ExposureLimits         map[string]float64 `json:"exposure_limits"`
	CorrelationAnalysis    *string            `json:"correlation_analysis"`
	CapitalImpact          *float64           `json:"capital_impact"`
}

// Result is the complete analysis of one submission.
type Result struct {
	WorkingSheet     WorkingSheet     `json:"working_sheet"`
	RiskCalculations RiskCalculations `json:"risk_calculations"`
	MarketAnalysis   MarketAnalysis   `json:"market_analysis"`
	PortfolioImpact  PortfolioImpact  `json:"portfolio_impact"`
	ConfidenceScore  float64          `json:"confidence_score"`
	AnalysisNotes    *string          `json:"analysis_notes"`
	Recommendations  []string         `json:"recommendations"`
	Warnings         []string         `json:"warnings"`
}

func str(s string) *string   { return &s }
func num(f float64) *float64 { return &f }

func newSheet() WorkingSheet {
	return WorkingSheet{AnalysisTimestamp: time.Now().UTC(), AnalysisVersion: "1.0"}
}
