// Package safety provides deterministic content scanning for outbound chat
// messages. It detects contact-information leakage (phone numbers, email
// addresses, UPI payment ids), off-platform links, and suspicious keywords.
//
// Scanning is advisory: a match flags the message for review but never
// blocks delivery. All detectors are independent booleans computed once at
// send time.
package safety

import (
	"regexp"
	"strings"
)

// Compiled patterns, built once at package init and safe for concurrent use.
var (
	// emailPattern matches a standard local@domain address. The domain must
	// carry a dotted TLD, which is what distinguishes an email from a UPI
	// alias (UPI bank handles have no dot).
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

	// upiPattern matches handle@alias candidates. The alias is verified
	// against the configured bank-alias whitelist before the flag is set.
	upiPattern = regexp.MustCompile(`(?i)\b([a-z0-9.\-_]{2,})@([a-z]{2,})\b`)

	// urlPattern matches http/https URLs, www. URLs, and bare domains with a
	// path. The bare-domain variant requires a trailing "/" to avoid false
	// positives on version strings like "v2.0".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|in|xyz|info|biz|app|me)/\S*)`)

	// hostPattern extracts the host portion of a matched URL for the
	// allow-list check.
	hostPattern = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?([^/\s:?#]+)`)
)

// Flags is the set of safety detectors, one boolean per detector.
type Flags struct {
	Phone   bool
	Email   bool
	UPI     bool
	Link    bool
	Keyword bool
}

// Any reports whether at least one detector fired. A message with Any()
// true is persisted with is_flagged set and flagged_by = system.
func (f Flags) Any() bool {
	return f.Phone || f.Email || f.UPI || f.Link || f.Keyword
}

// Config controls the tunable parts of the scanner. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// PhoneDigitRun is the minimum run of digits (separators allowed in
	// between) that counts as a phone number.
	PhoneDigitRun int

	// UPIBankAliases is the whitelist of bank handles recognised after the
	// "@" of a UPI id. Lowercase.
	UPIBankAliases []string

	// AllowedDomains are platform-owned hosts whose links are not flagged.
	// Subdomains of an allowed domain are also allowed. Lowercase.
	AllowedDomains []string

	// Keywords is the suspicious-keyword list, matched case-insensitively
	// as substrings.
	Keywords []string
}

// DefaultConfig returns the production detector configuration.
func DefaultConfig() Config {
	return Config{
		PhoneDigitRun: 10,
		UPIBankAliases: []string{
			"upi", "ybl", "paytm", "apl", "ibl", "axl",
			"okaxis", "oksbi", "okhdfcbank", "okicici",
		},
		AllowedDomains: []string{"milaap.in", "milaap.app"},
		Keywords: []string{
			"whatsapp", "telegram", "pay advance", "processing fee",
			"western union", "lottery", "send otp", "gift card",
		},
	}
}

// Scanner runs the content detectors. It is stateless and safe for
// concurrent use.
type Scanner struct {
	cfg      Config
	aliases  map[string]bool
	allowed  []string
	keywords []string
}

// NewScanner builds a Scanner from cfg. Aliases, domains, and keywords are
// normalised to lowercase.
func NewScanner(cfg Config) *Scanner {
	s := &Scanner{cfg: cfg, aliases: make(map[string]bool, len(cfg.UPIBankAliases))}
	for _, a := range cfg.UPIBankAliases {
		s.aliases[strings.ToLower(a)] = true
	}
	for _, d := range cfg.AllowedDomains {
		s.allowed = append(s.allowed, strings.ToLower(d))
	}
	for _, k := range cfg.Keywords {
		s.keywords = append(s.keywords, strings.ToLower(k))
	}
	return s
}

// Scan runs every detector over text and returns the resulting flag set.
// Detectors are order-independent.
func (s *Scanner) Scan(text string) Flags {
	return Flags{
		Phone:   s.hasPhone(text),
		Email:   emailPattern.MatchString(text),
		UPI:     s.hasUPI(text),
		Link:    s.hasExternalLink(text),
		Keyword: s.hasKeyword(text),
	}
}

// hasPhone returns true if text contains a run of at least PhoneDigitRun
// digits, allowing spaces, dashes, dots, and parentheses between digits.
// Go's regexp package (RE2) cannot express "N digits ignoring separators"
// cleanly, so this is a linear scan.
func (s *Scanner) hasPhone(text string) bool {
	threshold := s.cfg.PhoneDigitRun
	if threshold <= 0 {
		threshold = 10
	}

	count := 0
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			count++
			if count >= threshold {
				return true
			}
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '+':
			// Separator inside a number: keep the run alive.
		default:
			count = 0
		}
	}
	return false
}

// hasUPI returns true if text contains handle@alias where alias is in the
// bank-alias whitelist. Addresses that also parse as emails (dotted domain)
// never reach the whitelist check because the alias capture stops at a dot.
func (s *Scanner) hasUPI(text string) bool {
	for _, m := range upiPattern.FindAllStringSubmatch(text, -1) {
		if s.aliases[strings.ToLower(m[2])] {
			return true
		}
	}
	return false
}

// hasExternalLink returns true if text contains a URL whose host is not an
// allow-listed platform domain.
func (s *Scanner) hasExternalLink(text string) bool {
	for _, m := range urlPattern.FindAllString(text, -1) {
		host := hostPattern.FindStringSubmatch(m)
		if host == nil {
			continue
		}
		if !s.isAllowedHost(strings.ToLower(host[1])) {
			return true
		}
	}
	return false
}

func (s *Scanner) isAllowedHost(host string) bool {
	for _, d := range s.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// hasKeyword returns true if text contains any configured keyword,
// case-insensitively.
func (s *Scanner) hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
