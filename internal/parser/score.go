package parser

import "strings"

var commandKeywords = []string{"curl", "wget", "powershell", "dubious", "nc", "bash", "sh", "python", "perl"}

var suspiciousPatterns = []string{"/tmp/", "http://", "https://", ";", "&&", "|"}

const (
	commandEventBonus    = 20
	keywordBonus         = 40
	suspiciousBonus      = 25
	fileDownloadBonus    = 30
	eventidFileDownload  = "cowrie.session.file_download"
)

var commandEventHints = []string{"cowrie.command", "command"}

// Score computes the additive risk score for an event, clamped to [0,100],
// per the parser's scoring rules.
func Score(eventid, commandText string) int {
	score := 0

	for _, hint := range commandEventHints {
		if strings.Contains(eventid, hint) {
			score += commandEventBonus
			break
		}
	}

	lower := strings.ToLower(commandText)
	for _, kw := range commandKeywords {
		if strings.Contains(lower, kw) {
			score += keywordBonus
			break
		}
	}
	for _, pat := range suspiciousPatterns {
		if strings.Contains(commandText, pat) {
			score += suspiciousBonus
			break
		}
	}

	if eventid == eventidFileDownload {
		score += fileDownloadBonus
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Quarantined reports whether an event with the given score and validation
// state should be quarantined.
func Quarantined(score, threshold int, hasValidationErrors bool) bool {
	return hasValidationErrors || score >= threshold
}
