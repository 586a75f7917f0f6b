// Package detector implements component H, the auto-detector: a table of
// provider secret patterns classified by regex, with redaction that never
// lets a matched value escape into a log or error string. The pattern
// table follows the teacher's internal/constants/constants.go convention of
// centralizing related constants in one slice of structs.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/metasuper/core/internal/constants"
)

// Pattern describes one provider's secret shape.
type Pattern struct {
	Provider        string
	Regex           *regexp.Regexp
	Type            string
	KeyPathTemplate string
	Description     string
	Confidence      float64
	Keywords        []string // required in ctx.Question when Confidence <= 0.7
	ProjectScoped   bool
	ServiceScoped   bool
}

// patternTable is the closed set of provider patterns component H matches
// against. Order matters only for deterministic iteration in tests.
var patternTable = []Pattern{
	{
		Provider: "anthropic", Regex: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
		Type: "api_key", KeyPathTemplate: "meta/anthropic/api_key",
		Description: "Anthropic API key", Confidence: 1.0,
	},
	{
		Provider: "openai", Regex: regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		Type: "api_key", KeyPathTemplate: "meta/openai/api_key",
		Description: "OpenAI API key", Confidence: 1.0,
	},
	{
		Provider: "google", Regex: regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
		Type: "api_key", KeyPathTemplate: "meta/google/api_key",
		Description: "Google API key", Confidence: 1.0,
	},
	{
		Provider: "stripe_live", Regex: regexp.MustCompile(`sk_live_[0-9a-zA-Z]{24,}`),
		Type: "api_key", KeyPathTemplate: "meta/stripe/live_api_key",
		Description: "Stripe live secret key", Confidence: 1.0,
	},
	{
		Provider: "stripe_test", Regex: regexp.MustCompile(`sk_test_[0-9a-zA-Z]{24,}`),
		Type: "api_key", KeyPathTemplate: "meta/stripe/test_api_key",
		Description: "Stripe test secret key", Confidence: 1.0,
	},
	{
		Provider: "github_pat", Regex: regexp.MustCompile(`ghp_[0-9A-Za-z]{36}`),
		Type: "token", KeyPathTemplate: "meta/github/pat",
		Description: "GitHub personal access token", Confidence: 1.0,
	},
	{
		Provider: "github_oauth", Regex: regexp.MustCompile(`gho_[0-9A-Za-z]{36}`),
		Type: "token", KeyPathTemplate: "meta/github/oauth_token",
		Description: "GitHub OAuth access token", Confidence: 1.0,
	},
	{
		Provider: "github_app", Regex: regexp.MustCompile(`(ghu|ghs)_[0-9A-Za-z]{36}`),
		Type: "token", KeyPathTemplate: "meta/github/app_token",
		Description: "GitHub App installation token", Confidence: 1.0,
	},
	{
		Provider: "aws_access_key", Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		Type: "access_key", KeyPathTemplate: "meta/aws/access_key_id",
		Description: "AWS access key ID", Confidence: 1.0,
	},
	{
		Provider: "aws_secret_key", Regex: regexp.MustCompile(`[A-Za-z0-9/+=]{40}`),
		Type: "secret_key", KeyPathTemplate: "meta/aws/secret_access_key",
		Description: "AWS secret access key", Confidence: 0.7,
		Keywords: []string{"aws", "secret", "access key"},
	},
	{
		Provider: "cloudflare", Regex: regexp.MustCompile(`[A-Za-z0-9_-]{40}`),
		Type: "api_token", KeyPathTemplate: "meta/cloudflare/api_token",
		Description: "Cloudflare API token", Confidence: 0.7,
		Keywords: []string{"cloudflare", "cf", "tunnel"},
	},
	{
		Provider: "jwt", Regex: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
		Type: "jwt", KeyPathTemplate: "meta/jwt/token",
		Description: "JSON Web Token", Confidence: 0.8,
	},
	{
		Provider: "database_url", Regex: regexp.MustCompile(`(postgres|postgresql|mysql|mongodb)://[^\s"']+`),
		Type: "connection_string", KeyPathTemplate: "project/{project}/database_url",
		Description: "database connection string", Confidence: 1.0,
		ProjectScoped: true,
	},
	{
		Provider: "sendgrid", Regex: regexp.MustCompile(`SG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}`),
		Type: "api_key", KeyPathTemplate: "service/{service}/sendgrid_api_key",
		Description: "SendGrid API key", Confidence: 1.0,
		ServiceScoped: true,
	},
}

// Context carries the caller-supplied hints used to disambiguate
// low-confidence matches and to scope generated key paths.
type Context struct {
	Question    string
	ProjectName string
	ServiceName string
}

// Detection is one classified match.
type Detection struct {
	Provider    string
	Type        string
	KeyPath     string
	Description string
	Confidence  float64
	Match       string
	Start       int
	End         int
}

// DetectSecret returns the highest-confidence match in text, or nil if none
// qualifies. Matches with confidence <= 0.7 require a keyword from the
// pattern's Keywords list to appear in ctx.Question.
func DetectSecret(text string, ctx Context) *Detection {
	matches := findAll(text, ctx)
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Confidence > matches[j].Confidence })
	return &matches[0]
}

// ExtractAllSecrets returns every non-overlapping match in text.
func ExtractAllSecrets(text string, ctx Context) []Detection {
	return findAll(text, ctx)
}

// ContainsSecrets reports whether text contains any qualifying match.
func ContainsSecrets(text string) bool {
	return len(findAll(text, Context{})) > 0
}

// RedactSecrets replaces every match in text with its first 4 and last 4
// characters joined by an ellipsis, never the raw value.
func RedactSecrets(text string) string {
	matches := findAll(text, Context{})
	if len(matches) == 0 {
		return text
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })

	var b strings.Builder
	cursor := 0
	for _, m := range matches {
		if m.Start < cursor {
			continue // overlapped by a previous, already-redacted match
		}
		b.WriteString(text[cursor:m.Start])
		b.WriteString(redact(m.Match))
		cursor = m.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

func redact(value string) string {
	if len(value) <= constants.RedactionPrefixLen+constants.RedactionSuffixLen {
		return constants.RedactionEllipsis
	}
	return value[:constants.RedactionPrefixLen] + constants.RedactionEllipsis + value[len(value)-constants.RedactionSuffixLen:]
}

func findAll(text string, ctx Context) []Detection {
	var out []Detection
	lowerQuestion := strings.ToLower(ctx.Question)

	for _, p := range patternTable {
		if p.Confidence <= 0.7 && !hasKeyword(lowerQuestion, p.Keywords) {
			continue
		}
		locs := p.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			match := text[loc[0]:loc[1]]
			out = append(out, Detection{
				Provider:    p.Provider,
				Type:        p.Type,
				KeyPath:     keyPathFor(p, ctx),
				Description: p.Description,
				Confidence:  p.Confidence,
				Match:       match,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return dedupeOverlaps(out)
}

func hasKeyword(lowerQuestion string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(lowerQuestion, kw) {
			return true
		}
	}
	return false
}

func keyPathFor(p Pattern, ctx Context) string {
	if p.ProjectScoped && ctx.ProjectName != "" {
		return strings.ReplaceAll(p.KeyPathTemplate, "{project}", ctx.ProjectName)
	}
	if p.ServiceScoped && ctx.ServiceName != "" {
		return strings.ReplaceAll(p.KeyPathTemplate, "{service}", ctx.ServiceName)
	}
	if strings.Contains(p.KeyPathTemplate, "{project}") || strings.Contains(p.KeyPathTemplate, "{service}") {
		// no project or service in scope: fall back to the meta-scoped form for this provider
		return fmt.Sprintf("meta/%s/%s", p.Provider, p.Type)
	}
	return p.KeyPathTemplate
}

// dedupeOverlaps keeps only the highest-confidence detection for any run of
// overlapping matches (spec.md §4.H: "non-overlapping matches").
func dedupeOverlaps(detections []Detection) []Detection {
	if len(detections) <= 1 {
		return detections
	}
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Start != detections[j].Start {
			return detections[i].Start < detections[j].Start
		}
		return detections[i].Confidence > detections[j].Confidence
	})

	var out []Detection
	lastEnd := -1
	for _, d := range detections {
		if d.Start < lastEnd {
			continue
		}
		out = append(out, d)
		lastEnd = d.End
	}
	return out
}
