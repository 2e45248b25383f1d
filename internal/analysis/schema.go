package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidOutput is returned when the model reply does not satisfy the
// result schema.
var ErrInvalidOutput = errors.New("model output does not match the analysis schema")

const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["working_sheet", "confidence_score"],
  "properties": {
    "working_sheet": {
      "type": "object",
      "properties": {
        "insured": {"type": ["string", "null"]},
        "cedant": {"type": ["string", "null"]},
        "broker": {"type": ["string", "null"]},
        "perils_covered": {"type": ["string", "null"]},
        "total_sum_insured": {"type": ["number", "null"]},
        "tsi_breakdown": {"type": ["object", "null"], "additionalProperties": {"type": "number"}},
        "excess_deductible": {"type": ["number", "null"]},
        "retention_of_cedant": {"type": ["number", "null"]},
        "possible_maximum_loss_pml": {"type": ["number", "null"]},
        "claims_experience_last_3_years": {"type": ["array", "null"], "items": {"type": "object"}},
        "loss_ratio_percentage": {"type": ["number", "null"]},
        "share_offered": {"type": ["number", "null"]},
        "premium_rates": {"type": ["number", "null"]},
        "premium_original_currency": {"type": ["number", "null"]},
        "premium_kes": {"type": ["number", "null"]},
        "climate_change_risk_factors": {"enum": ["Minimal", "Moderate", "High", null]},
        "esg_risk_assessment": {"enum": ["Low", "Medium", "High", null]},
        "proposed_acceptance_share": {"type": ["number", "null"]},
        "liability_original_currency": {"type": ["number", "null"]},
        "liability_kes": {"type": ["number", "null"]},
        "recommended_share_percentage": {"type": ["number", "null"]},
        "analysis_timestamp": {"type": ["string", "null"], "format": "date-time"},
        "analysis_version": {"type": ["string", "null"]}
      }
    },
    "risk_calculations": {"type": ["object", "null"]},
    "market_analysis": {
      "type": ["object", "null"],
      "properties": {
        "competitor_pricing": {"type": ["array", "null"], "items": {"type": "object"}},
        "negotiation_factors": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    },
    "portfolio_impact": {
      "type": ["object", "null"],
      "properties": {
        "exposure_limits": {"type": ["object", "null"], "additionalProperties": {"type": "number"}},
        "capital_impact": {"type": ["number", "null"]}
      }
    },
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
    "analysis_notes": {"type": ["string", "null"]},
    "recommendations": {"type": ["array", "null"], "items": {"type": "string"}},
    "warnings": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("analysis_result.json", strings.NewReader(resultSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("analysis_result.json")
	})
	return compiledSchema, schemaErr
}

// ParseResult validates raw model output and decodes it. Markdown code
// fences around the JSON are tolerated.
func ParseResult(raw []byte) (*Result, error) {
	raw = stripFences(raw)

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	sch, err := schema()
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if res.WorkingSheet.AnalysisTimestamp.IsZero() {
		res.WorkingSheet.AnalysisTimestamp = time.Now().UTC()
	}
	if res.WorkingSheet.AnalysisVersion == "" {
		res.WorkingSheet.AnalysisVersion = "1.0"
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return &res, nil
}

func stripFences(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = b[3:]
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
	return bytes.TrimSpace(b)
}
