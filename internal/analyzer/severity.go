package analyzer

import (
	"strings"

	"github.com/CosmoTheDev/scanpipe/models"
)

// Per-tool severity tables. Every raw level a tool can emit is listed
// explicitly; anything else maps to medium so an unexpected level is
// visible without being silently dropped.

// semgrepSeverityTable maps both semgrep's own levels (ERROR, WARNING,
// INFO) and the metadata severity strings rule authors attach.
var semgrepSeverityTable = map[string]models.Severity{
	"critical": models.SeverityCritical,
	"error":    models.SeverityHigh,
	"high":     models.SeverityHigh,
	"warning":  models.SeverityMedium,
	"medium":   models.SeverityMedium,
	"moderate": models.SeverityMedium,
	"info":     models.SeverityLow,
	"low":      models.SeverityLow,
}

// semgrepRuleHints raises the severity of rules whose ID names a class
// of vulnerability more serious than the rule's declared level.
var semgrepRuleHints = []struct {
	substr   string
	severity models.Severity
}{
	{"sql-injection", models.SeverityCritical},
	{"sqli", models.SeverityCritical},
	{"command-injection", models.SeverityCritical},
	{"code-injection", models.SeverityCritical},
	{"deserialization", models.SeverityCritical},
	{"xss", models.SeverityHigh},
	{"path-traversal", models.SeverityHigh},
	{"ssrf", models.SeverityHigh},
	{"open-redirect", models.SeverityMedium},
}

// mapSemgrepSeverity resolves the severity for one semgrep result.
// Metadata severity wins over the rule level; rule-ID hints only ever
// raise the result.
func mapSemgrepSeverity(metaSeverity, ruleLevel, ruleID string) models.Severity {
	sev, ok := semgrepSeverityTable[strings.ToLower(metaSeverity)]
	if !ok {
		sev, ok = semgrepSeverityTable[strings.ToLower(ruleLevel)]
	}
	if !ok {
		sev = models.SeverityMedium
	}

	id := strings.ToLower(ruleID)
	for _, h := range semgrepRuleHints {
		if strings.Contains(id, h.substr) && h.severity.Weight() > sev.Weight() {
			sev = h.severity
		}
	}
	return sev
}

// banditSeverityTable maps bandit's issue_severity values.
var banditSeverityTable = map[string]models.Severity{
	"high":   models.SeverityHigh,
	"medium": models.SeverityMedium,
	"low":    models.SeverityLow,
}

// banditCriticalTests are test IDs whose HIGH findings escalate to
// critical: exec/eval use, shell injection, SQL injection and the
// weak-crypto/template families.
var banditCriticalTests = map[string]bool{
	"B102": true, "B103": true, "B104": true, "B105": true,
	"B106": true, "B107": true, "B108": true,
	"B201": true,
	"B501": true, "B502": true, "B503": true, "B504": true,
	"B505": true, "B506": true,
	"B601": true, "B602": true, "B603": true, "B604": true,
	"B605": true, "B606": true, "B607": true, "B608": true,
	"B609": true,
	"B701": true, "B702": true, "B703": true,
}

// mapBanditSeverity resolves the severity for one bandit finding.
func mapBanditSeverity(rawSeverity, testID string) models.Severity {
	sev, ok := banditSeverityTable[strings.ToLower(rawSeverity)]
	if !ok {
		sev = models.SeverityMedium
	}
	if sev == models.SeverityHigh && banditCriticalTests[strings.ToUpper(testID)] {
		sev = models.SeverityCritical
	}
	return sev
}

// depcheckSeverityTable maps dependency-advisory severity strings.
var depcheckSeverityTable = map[string]models.Severity{
	"critical": models.SeverityCritical,
	"high":     models.SeverityHigh,
	"moderate": models.SeverityMedium,
	"medium":   models.SeverityMedium,
	"low":      models.SeverityLow,
	"info":     models.SeverityLow,
}

// depcheckCriticalHints escalate an advisory to critical when its text
// describes direct code execution.
var depcheckCriticalHints = []string{
	"remote code execution",
	"arbitrary code execution",
	"command injection",
}

// mapDepcheckSeverity resolves the severity for one dependency advisory.
// Advisories carrying a GHSA or CVE identifier but no usable severity
// default to high rather than medium.
func mapDepcheckSeverity(rawSeverity, advisoryID, text string) models.Severity {
	sev, ok := depcheckSeverityTable[strings.ToLower(rawSeverity)]
	if !ok {
		if hasVulnIdentifier(advisoryID) {
			sev = models.SeverityHigh
		} else {
			sev = models.SeverityMedium
		}
	}

	lower := strings.ToLower(text)
	for _, hint := range depcheckCriticalHints {
		if strings.Contains(lower, hint) {
			return models.SeverityCritical
		}
	}
	return sev
}

func hasVulnIdentifier(id string) bool {
	up := strings.ToUpper(id)
	return strings.HasPrefix(up, "GHSA-") || strings.HasPrefix(up, "CVE-")
}
