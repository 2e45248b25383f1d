package analysis

import (
	"fmt"
	"strings"

	"github.com/kalambet/facre/internal/extract"
)

// SystemPrompt instructs the model to act as a facultative underwriter.
const SystemPrompt = `You are an expert facultative reinsurance underwriter with 20+ years of experience.

Analyze the provided reinsurance submission and generate a comprehensive working sheet following the Kenya Re guidelines.

ANALYSIS REQUIREMENTS:
1. Extract all available information about the insured, cedant, broker, and risk details
2. Assess perils covered, geographical limits, and risk characteristics
3. Evaluate financial information including TSI, deductibles, and premium rates
4. Perform risk assessment including PML estimation and catastrophe exposure
5. Analyze ESG and climate change risk factors
6. Provide market considerations and portfolio impact assessment
7. Generate final recommendations with proposed share percentage

RISK ASSESSMENT GUIDELINES:
- PML (Possible Maximum Loss): consider industry standards, usually 10-100% depending on risk type
- ESG Risk: Low, Medium or High
- Climate Risk: Minimal, Moderate or High
- Premium Rates: based on risk profile and market conditions

Be conservative in risk assessment to protect the reinsurer's interests.

Respond ONLY with a JSON object with the keys working_sheet, risk_calculations,
market_analysis, portfolio_impact, confidence_score (0 to 1), analysis_notes,
recommendations (array of strings) and warnings (array of strings).`

const (
	maxPromptTables = 5
	maxTableChars   = 500
)

// AttachmentInfo describes one attachment in the prompt.
type AttachmentInfo struct {
	Filename string
	Size     int
	URL      string
}

// Bundle is everything the prompt is built from.
type Bundle struct {
	Sender      string
	Subject     string
	Date        string
	Body        string
	Attachments []AttachmentInfo
	Documents   extract.Summary
}

// BuildPrompt renders the submission for the model.
func BuildPrompt(b Bundle) string {
	var sb strings.Builder
	sb.WriteString("FACULTATIVE REINSURANCE SUBMISSION ANALYSIS\n\n")
	sb.WriteString("EMAIL DETAILS:\n")
	fmt.Fprintf(&sb, "- From: %s\n", orDefault(b.Sender, "Unknown"))
	fmt.Fprintf(&sb, "- Subject: %s\n", orDefault(b.Subject, "No Subject"))
	fmt.Fprintf(&sb, "- Date: %s\n\n", orDefault(b.Date, "Unknown"))
	sb.WriteString("EMAIL CONTENT:\n")
	sb.WriteString(orDefault(b.Body, "No content available"))
	sb.WriteString("\n\nATTACHMENTS:\n")

	if len(b.Attachments) == 0 {
		sb.WriteString("No attachments found.\n")
	}
	for i, a := range b.Attachments {
		fmt.Fprintf(&sb, "- %s (%d bytes)", orDefault(a.Filename, fmt.Sprintf("attachment_%d", i)), a.Size)
		if a.URL != "" {
			fmt.Fprintf(&sb, " [URL: %s]", a.URL)
		}
		sb.WriteByte('\n')
	}

	docs := b.Documents
	if strings.TrimSpace(docs.CombinedText) != "" {
		sb.WriteString("\nPROCESSED DOCUMENT CONTENT:\n")
		sb.WriteString(docs.CombinedText)
		sb.WriteString("\nDOCUMENT PROCESSING SUMMARY:\n")
		fmt.Fprintf(&sb, "- Total documents processed: %d\n", docs.DocumentCount)
		fmt.Fprintf(&sb, "- Success rate: %.2f%%\n", docs.SuccessRate()*100)
		fmt.Fprintf(&sb, "- Total text extracted: %d characters\n\n", docs.TotalTextLength)

		if len(docs.Tables) > 0 {
			sb.WriteString("EXTRACTED TABLES:\n")
			for i, t := range docs.Tables {
				if i == maxPromptTables {
					break
				}
				fmt.Fprintf(&sb, "Table %d: %s...\n", i+1, truncate(fmt.Sprint([][]string(t)), maxTableChars))
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
