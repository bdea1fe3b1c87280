package businessflow

import (
	"math"
	"regexp"
	"strings"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// ExtractionResult is a validated code candidate pulled out of an SMS body
type ExtractionResult struct {
	Code       string
	CodeType   string
	Confidence float64
	Pattern    string
}

// codePattern is one rung of a pattern ladder. Base confidence drops with
// rank; the more specific the pattern, the higher it starts.
type codePattern struct {
	name string
	re   *regexp.Regexp
	base float64
}

// Platform-specific ladders, tried before the generic ladder when the
// active session names the platform. Keys are lowercased platform names.
var platformLadders = map[string][]codePattern{
	"medium": {
		{"medium_code", regexp.MustCompile(`(?i)Medium.{0,40}?code\D{0,10}(\d{4,8})\b`), 0.75},
	},
	"linkedin": {
		{"linkedin_code", regexp.MustCompile(`(?i)LinkedIn.{0,40}?code\D{0,10}(\d{4,8})\b`), 0.75},
	},
	"reddit": {
		{"reddit_code", regexp.MustCompile(`(?i)Reddit.{0,40}?code\D{0,10}(\d{4,8})\b`), 0.75},
	},
	"quora": {
		{"quora_code", regexp.MustCompile(`(?i)Quora.{0,40}?code\D{0,10}(\d{4,8})\b`), 0.75},
	},
	"facebook": {
		{"facebook_is_your", regexp.MustCompile(`(?i)\b(\d{5,8}) is your Facebook`), 0.75},
		{"facebook_fb_prefix", regexp.MustCompile(`(?i)\bFB[- ](\d{4,8})\b`), 0.70},
	},
	"google": {
		{"google_g_prefix", regexp.MustCompile(`(?i)\bG-(\d{6})\b`), 0.75},
		{"google_is_your", regexp.MustCompile(`(?i)\b(\d{6}) is your Google`), 0.70},
	},
	"whatsapp": {
		{"whatsapp_hyphenated", regexp.MustCompile(`(?i)WhatsApp code:?\s*(\d{3}-\d{3})`), 0.75},
		{"whatsapp_plain", regexp.MustCompile(`(?i)WhatsApp.{0,40}?\b(\d{6})\b`), 0.70},
	},
	"telegram": {
		{"telegram_login", regexp.MustCompile(`(?i)Telegram (?:login )?code:?\s*(\d{5,6})\b`), 0.75},
	},
	"instagram": {
		{"instagram_is_your", regexp.MustCompile(`(?i)\b(\d{6}) is your Instagram`), 0.75},
	},
	"viber": {
		{"viber_code", regexp.MustCompile(`(?i)Viber code:?\s*(\d{4,8})\b`), 0.75},
	},
}

// Generic ladder for unknown platforms and platform-ladder misses. The
// standalone rung starts low enough that a bare number with no supporting
// context words lands under the confidence threshold.
var genericLadder = []codePattern{
	{"generic_keyword_adjacent", regexp.MustCompile(`(?i)(?:code|otp|pin|password)(?:\s+is)?\W{0,10}\b([A-Za-z0-9-]{4,9})\b`), 0.65},
	{"generic_is_your", regexp.MustCompile(`(?i)\b([A-Za-z0-9-]{4,9}) is your`), 0.60},
	{"generic_standalone", regexp.MustCompile(`\b([A-Za-z0-9-]{4,9})\b`), 0.45},
}

var contextWords = []string{
	"code", "verification", "verify", "otp", "pin", "confirm", "authentication",
}

// CodeExtractor pulls verification codes out of SMS bodies. It is pure and
// stateless; all inputs arrive per call.
type CodeExtractor struct{}

// NewCodeExtractor creates a new code extractor
func NewCodeExtractor() *CodeExtractor {
	return &CodeExtractor{}
}

// Extract finds the best code candidate in an SMS body. Every applicable
// pattern is tried: the session's expected pattern when present, the
// platform ladder, and the generic ladder. The single highest-confidence
// candidate across all of them wins; earlier rungs break ties. A candidate
// at or below the confidence threshold is treated as no match, so the
// caller sees ErrNoCodeFound rather than a low-quality guess.
func (e *CodeExtractor) Extract(body, platform string, expectedPattern *string) (*ExtractionResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrNoCodeFound
	}

	hasContext := containsContextWord(body)

	var best *ExtractionResult
	consider := func(result *ExtractionResult) {
		if result != nil && (best == nil || result.Confidence > best.Confidence) {
			best = result
		}
	}

	if expectedPattern != nil && *expectedPattern != "" {
		if re, err := regexp.Compile(*expectedPattern); err == nil {
			consider(e.tryPattern(body, codePattern{"session_expected", re, 0.80}, hasContext))
		}
	}

	if ladder, ok := platformLadders[strings.ToLower(platform)]; ok {
		for _, p := range ladder {
			consider(e.tryPattern(body, p, hasContext))
		}
	}

	for _, p := range genericLadder {
		consider(e.tryPattern(body, p, hasContext))
	}

	if best == nil {
		return nil, ErrNoCodeFound
	}
	return best, nil
}

// tryPattern scores every candidate a pattern yields and returns the best
// one above the threshold, or nil when the rung produces nothing usable
func (e *CodeExtractor) tryPattern(body string, p codePattern, hasContext bool) *ExtractionResult {
	matches := p.re.FindAllStringSubmatch(body, -1)
	if matches == nil {
		return nil
	}

	var best *ExtractionResult
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}

		cleaned := normalizeCode(m[1])
		codeType, ok := classifyCode(cleaned)
		if !ok {
			continue
		}
		code := strings.ToUpper(cleaned)

		confidence := p.base + typeBonus(codeType) + lengthBonus(len(code))
		if hasContext {
			confidence += 0.10
		}
		// Scores are sums of two-decimal terms; round so a candidate that
		// lands exactly on the threshold compares as equal to it.
		confidence = math.Round(confidence*100) / 100
		if confidence > utils.ConfidenceCap {
			confidence = utils.ConfidenceCap
		}
		if confidence <= utils.ConfidenceThreshold {
			continue
		}

		if best == nil || confidence > best.Confidence {
			best = &ExtractionResult{
				Code:       code,
				CodeType:   codeType,
				Confidence: confidence,
				Pattern:    p.name,
			}
		}
	}

	return best
}

// normalizeCode strips separators from the candidate. Hyphenated codes like
// 123-456 collapse to 123456 before length validation. Case is preserved
// here so composition can still be classified; the stored code is
// uppercased afterwards.
func normalizeCode(raw string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(raw)
}

// classifyCode validates length and composition. Candidates without a
// single digit are ordinary words, never codes.
func classifyCode(code string) (string, bool) {
	if len(code) < utils.MinCodeLength || len(code) > utils.MaxCodeLength {
		return "", false
	}

	hasDigit := false
	hasUpper := false
	hasLower := false
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		default:
			return "", false
		}
	}
	if !hasDigit {
		return "", false
	}

	switch {
	case !hasUpper && !hasLower:
		return models.CodeTypeNumeric, true
	case hasUpper && hasLower:
		return models.CodeTypeMixedCase, true
	default:
		return models.CodeTypeAlphanumeric, true
	}
}

func typeBonus(codeType string) float64 {
	switch codeType {
	case models.CodeTypeNumeric:
		return 0.10
	case models.CodeTypeAlphanumeric:
		return 0.05
	default:
		return 0.02
	}
}

// lengthBonus favors the overwhelmingly common 6-digit format
func lengthBonus(length int) float64 {
	switch length {
	case 6:
		return 0.05
	case 4, 8:
		return 0.02
	default:
		return 0.0
	}
}

func containsContextWord(body string) bool {
	lower := strings.ToLower(body)
	for _, w := range contextWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
