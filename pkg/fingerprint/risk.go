package fingerprint

import (
	"regexp"
	"strings"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Recommendation string

const (
	RecommendAllow     Recommendation = "allow"
	RecommendChallenge Recommendation = "challenge"
	RecommendBlock     Recommendation = "block"
)

// Risk factor names reported by AssessDeviceRisk.
const (
	FactorAutomation      = "automation_detected"
	FactorCookiesDisabled = "cookies_disabled"
	FactorDoNotTrack      = "do_not_track"
	FactorBotUserAgent    = "bot_user_agent"
	FactorNoConcurrency   = "no_hardware_concurrency"
	FactorLowColorDepth   = "low_color_depth"
)

// Similarity thresholds used by ValidateFingerprint.
const (
	SimilarityInvalid = 0.7
	SimilarityTrusted = 0.9
)

var botUserAgent = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|headless|phantom|selenium|puppeteer|playwright`)

// CalculateConfidence scores how many signals were actually observed.
func CalculateConfidence(d DeviceInfo) Confidence {
	score := 0

	if len(d.UserAgent) > 50 {
		score += 2
	}
	if realResolution(d.ScreenResolution) {
		score += 2
	}
	if d.Timezone != "" && d.Timezone != placeholderString {
		score++
	}
	if d.HardwareConcurrency > 0 {
		score++
	}
	if d.DeviceMemory != nil {
		score++
	}
	if d.ColorDepth > 0 {
		score++
	}

	if d.Webdriver {
		score -= 2
	}
	if !d.CookieEnabled {
		score--
	}

	switch {
	case score >= 6:
		return ConfidenceHigh
	case score >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func realResolution(r string) bool {
	r = strings.TrimSpace(r)
	return r != "" && r != placeholderString && r != "0x0"
}

// CompareSimilarity is the share of positions at which a and b hold the same
// byte, measured over the shorter string and divided by the longer length.
// It is an approximation, not an edit distance; for two equal-length hex
// digests it is the fraction of matching characters.
func CompareSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}

	matches := 0
	for i := range shorter {
		if a[i] == b[i] {
			matches++
		}
	}

	return float64(matches) / float64(longer)
}

// Validation is the result of comparing the current fingerprint with the
// stored one.
type Validation struct {
	IsValid    bool      `json:"is_valid"`
	Similarity float64   `json:"similarity"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// ValidateFingerprint classifies the similarity between current and stored.
func ValidateFingerprint(current, stored string) Validation {
	sim := CompareSimilarity(current, stored)

	switch {
	case sim < SimilarityInvalid:
		return Validation{IsValid: false, Similarity: sim, RiskLevel: RiskHigh}
	case sim < SimilarityTrusted:
		return Validation{IsValid: true, Similarity: sim, RiskLevel: RiskMedium}
	default:
		return Validation{IsValid: true, Similarity: sim, RiskLevel: RiskLow}
	}
}

// RiskAssessment is a rule based view of how suspicious a device looks,
// independent of any stored fingerprint.
type RiskAssessment struct {
	Score          int            `json:"risk_score"`
	Factors        []string       `json:"risk_factors"`
	Recommendation Recommendation `json:"recommendation"`
}

// AssessDeviceRisk applies the additive risk rules to d.
func AssessDeviceRisk(d DeviceInfo) RiskAssessment {
	var a RiskAssessment

	add := func(points int, factor string) {
		a.Score += points
		a.Factors = append(a.Factors, factor)
	}

	if d.Webdriver {
		add(50, FactorAutomation)
	}
	if !d.CookieEnabled {
		add(20, FactorCookiesDisabled)
	}
	if d.DoNotTrack == "1" || strings.EqualFold(d.DoNotTrack, "yes") {
		add(5, FactorDoNotTrack)
	}
	if botUserAgent.MatchString(d.UserAgent) {
		add(40, FactorBotUserAgent)
	}
	if d.HardwareConcurrency == 0 {
		add(10, FactorNoConcurrency)
	}
	if d.ColorDepth < 16 {
		add(15, FactorLowColorDepth)
	}

	switch {
	case a.Score >= 50:
		a.Recommendation = RecommendBlock
	case a.Score >= 20:
		a.Recommendation = RecommendChallenge
	default:
		a.Recommendation = RecommendAllow
	}

	return a
}
