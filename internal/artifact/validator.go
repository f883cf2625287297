package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MaxPathLength is the longest file path accepted by validation.
	MaxPathLength = 255

	// DefaultLargeFileBytes is the content size above which a file draws
	// a warning. One MiB.
	DefaultLargeFileBytes = 1 << 20
)

// Validation rule identifiers, carried on every Issue.
const (
	RuleEmptyPath       = "empty-path"
	RulePathTooLong     = "path-too-long"
	RuleNullContent     = "null-content"
	RuleLargeFile       = "large-file"
	RuleEmptyContent    = "empty-content"
	RulePlaceholder     = "placeholder-content"
	RuleUnresolvedToken = "unresolved-token"
	RuleSecretLeak      = "secret-leak"
)

// placeholderMarkers are sentinels a generator emits before the real
// content has streamed in. Matched case-insensitively.
var placeholderMarkers = []string{
	"content incoming",
	"[content pending]",
}

// sourceExtensions are the extensions checked for unresolved template
// tokens.
var sourceExtensions = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
}

var undefinedToken = regexp.MustCompile(`\bundefined\b`)

// Issue is a single validation finding for one file.
type Issue struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Stats summarizes the files that passed the blocking rules.
type Stats struct {
	FileCount    int    `json:"file_count"`
	TotalBytes   int64  `json:"total_bytes"`
	LargestPath  string `json:"largest_path"`
	LargestBytes int64  `json:"largest_bytes"`
}

// Report is the outcome of validating a batch. Valid is true iff no
// blocking errors were found; warnings never block.
type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	Stats    Stats   `json:"stats"`
}

// ErrorMessages returns the error messages joined for embedding in a
// failure error.
func (r *Report) ErrorMessages() string {
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.String()
	}
	return strings.Join(msgs, "; ")
}

// SecretFinding is a secret-looking match reported by a scanner.
type SecretFinding struct {
	RuleID      string
	Description string
	Line        int
}

// SecretScanner reports secret-looking content so it can be surfaced as a
// warning before the file is persisted.
type SecretScanner interface {
	Scan(path, content string) []SecretFinding
}

// Validator applies the pre-apply rules to a batch. Validation is
// deterministic for a fixed batch: no I/O, no clock, no mutation.
type Validator struct {
	largeFileBytes int64
	scanner        SecretScanner
}

// Option configures a Validator.
type Option func(*Validator)

// WithLargeFileBytes overrides the large-file warning threshold.
func WithLargeFileBytes(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.largeFileBytes = n
		}
	}
}

// WithSecretScanner enables secret-leak warnings.
func WithSecretScanner(s SecretScanner) Option {
	return func(v *Validator) {
		v.scanner = s
	}
}

// NewValidator returns a validator with the default thresholds.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{largeFileBytes: DefaultLargeFileBytes}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks every file in the batch and returns the full report.
// An empty or nil batch is valid with zero stats; rejecting empty batches
// is the coordinator's admission concern, not a validation rule.
func (v *Validator) Validate(b *Batch) *Report {
	report := &Report{Valid: true}
	if b == nil {
		return report
	}

	for _, f := range b.Files() {
		errsBefore := len(report.Errors)

		if f.Path == "" {
			report.addError(f.Path, RuleEmptyPath, "file path is empty")
		} else if len(f.Path) > MaxPathLength {
			report.addError(f.Path, RulePathTooLong,
				fmt.Sprintf("file path is %d characters, limit is %d", len(f.Path), MaxPathLength))
		}
		if f.Content == nil {
			report.addError(f.Path, RuleNullContent, "content is null")
		}
		if len(report.Errors) > errsBefore {
			continue
		}

		content := *f.Content
		size := int64(len(content))
		report.Stats.FileCount++
		report.Stats.TotalBytes += size
		if size > report.Stats.LargestBytes {
			report.Stats.LargestBytes = size
			report.Stats.LargestPath = f.Path
		}

		if size > v.largeFileBytes {
			report.addWarning(f.Path, RuleLargeFile,
				fmt.Sprintf("content is %d bytes, threshold is %d", size, v.largeFileBytes))
		}
		if size == 0 {
			report.addWarning(f.Path, RuleEmptyContent, "content is empty")
		}
		if marker := matchPlaceholder(content); marker != "" {
			report.addWarning(f.Path, RulePlaceholder,
				fmt.Sprintf("content contains placeholder marker %q", marker))
		}
		if sourceExtensions[strings.ToLower(filepath.Ext(f.Path))] && undefinedToken.MatchString(content) {
			report.addWarning(f.Path, RuleUnresolvedToken,
				"content contains an unresolved \"undefined\" token")
		}
		if v.scanner != nil {
			for _, finding := range v.scanner.Scan(f.Path, content) {
				report.addWarning(f.Path, RuleSecretLeak,
					fmt.Sprintf("possible secret (%s) at line %d", finding.RuleID, finding.Line))
			}
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func (r *Report) addError(path, rule, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Rule: rule, Message: message})
}

func (r *Report) addWarning(path, rule, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Rule: rule, Message: message})
}

func matchPlaceholder(content string) string {
	lower := strings.ToLower(content)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}
