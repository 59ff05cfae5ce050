package pricing

import "fmt"

// Credit pricing policy. Rates are business parameters, not
// structural invariants.
const (
	CreditsPerDollar = 8

	// Site audits bill per page.
	creditsPerSitePage = 7

	// A single-page full audit is bundled below the per-analysis sum.
	PageAuditCredits = 8

	// One analysis type on one URL.
	IndividualReportCredits = 1
)

// SiteAuditCredits prices a full site audit across pageCount pages.
func SiteAuditCredits(pageCount int64) int64 {
	if pageCount < 1 {
		pageCount = 1
	}
	return pageCount * creditsPerSitePage
}

// CostUSD converts credits into the display dollar amount.
func CostUSD(credits int64) float64 {
	return float64(credits) / CreditsPerDollar
}

// Breakdown renders a human-readable cost explanation for a site
// audit quote.
func Breakdown(pageCount, credits int64, waived bool) string {
	if waived {
		return fmt.Sprintf("FREE in dev mode - %d pages will be analyzed", pageCount)
	}
	if pageCount == 1 {
		return fmt.Sprintf("1 page site audit: %d credits ($%.2f)", credits, CostUSD(credits))
	}
	return fmt.Sprintf("Full site audit: %d pages x %d credits. Total: %d credits ($%.2f)",
		pageCount, int64(creditsPerSitePage), credits, CostUSD(credits))
}
