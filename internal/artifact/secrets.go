package artifact

import (
	"fmt"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// LeakScanner scans file content with the Gitleaks SDK (default config,
// 800+ patterns) and reports matches as validation warnings. The detector
// is built once at construction; scanning is read-only and deterministic
// for fixed content.
type LeakScanner struct {
	detector *detect.Detector
	logger   *zap.Logger
}

// NewLeakScanner builds a scanner with the default Gitleaks ruleset.
func NewLeakScanner(logger *zap.Logger) (*LeakScanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	return &LeakScanner{detector: detector, logger: logger}, nil
}

// Scan reports secret-looking findings in content. The secret values
// themselves are never logged or returned, only rule IDs and positions.
func (s *LeakScanner) Scan(path, content string) []SecretFinding {
	if content == "" {
		return nil
	}
	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return nil
	}
	out := make([]SecretFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, SecretFinding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
	}
	s.logger.Debug("secret scan found matches",
		zap.String("path", path),
		zap.Int("findings", len(out)))
	return out
}
