package parser

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// CommandRisk classifies a command string into a coarse bucket used to
// decide how aggressively to defang it.
type CommandRisk string

const (
	RiskSafe      CommandRisk = "safe"
	RiskModerate  CommandRisk = "moderate"
	RiskDangerous CommandRisk = "dangerous"
)

var dangerousVerbs = map[string]string{
	"rm":     "rx",
	"dd":     "dx",
	"mkfs":   "mkfx",
	"shred":  "shrx",
	"chmod":  "chmox",
	"chown":  "chowx",
	"kill":   "kilx",
	"reboot": "reboox",
}

var moderateVerbRe = regexp.MustCompile(`(?i)\b(curl|wget|nc|base64|eval|exec)\b`)
var dangerousVerbRe = regexp.MustCompile(`(?i)\b(rm|dd|mkfs|shred|chmod|chown|kill|reboot)\b`)

// ClassifyCommand buckets a command string into {safe, moderate, dangerous}
// for the command_analysis field.
func ClassifyCommand(command string) CommandRisk {
	if command == "" {
		return RiskSafe
	}
	if dangerousVerbRe.MatchString(command) {
		return RiskDangerous
	}
	if moderateVerbRe.MatchString(command) || strings.ContainsAny(command, ";|") || strings.Contains(command, "&&") {
		return RiskModerate
	}
	return RiskSafe
}

// DefangResult is the outcome of defanging a command string.
type DefangResult struct {
	CommandAnalysis CommandRisk
	InputSafe       string
	InputHash       string // hex BLAKE2b-256 of the original command
	InputOriginal   string // only populated when preservation is enabled
}

// DefangIntelligent implements the default "intelligent" mode: URLs are
// rewritten to hxxp(s)://, separators are bracketed, and dangerous verbs are
// mangled, while input_hash is always computed over the untouched original.
func DefangIntelligent(command string, preserveOriginal bool) DefangResult {
	risk := ClassifyCommand(command)
	hash := blake2bHex(command)

	result := DefangResult{CommandAnalysis: risk, InputHash: hash}
	if preserveOriginal {
		result.InputOriginal = command
	}

	if risk == RiskSafe {
		result.InputSafe = command
		return result
	}

	safe := command
	safe = strings.ReplaceAll(safe, "https://", "hxxps://")
	safe = strings.ReplaceAll(safe, "http://", "hxxp://")
	safe = strings.ReplaceAll(safe, ";", " [SC] ")
	safe = strings.ReplaceAll(safe, "&&", " [AND] ")
	safe = strings.ReplaceAll(safe, "|", " [PIPE] ")

	for verb, mangled := range dangerousVerbs {
		safe = replaceWord(safe, verb, mangled)
	}

	result.InputSafe = safe
	return result
}

// DefangLegacy implements the legacy neutralization mode: indiscriminate
// replacement with no risk classification, grounded on the source's
// _neutralize_command.
func DefangLegacy(command string) DefangResult {
	safe := command
	safe = strings.ReplaceAll(safe, "https://", "[URL]")
	safe = strings.ReplaceAll(safe, "http://", "[URL]")
	safe = strings.ReplaceAll(safe, ";", " [SC] ")
	safe = strings.ReplaceAll(safe, "&&", " [AND] ")
	safe = strings.ReplaceAll(safe, "|", " [PIPE] ")

	return DefangResult{
		CommandAnalysis: ClassifyCommand(command),
		InputSafe:       safe,
		InputHash:       blake2bHex(command),
	}
}

func replaceWord(s, word, replacement string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	return re.ReplaceAllString(s, replacement)
}

func blake2bHex(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
