package app

import (
	"context"
	"fmt"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/randid"
)

const slugSuffixLength = 6

// newSlug returns <sanitized handle>-<random suffix>, drawing suffixes until one is unused.
// Only ctx bounds the loop.
func (s *Service) newSlug(ctx context.Context, handle string) (string, error) {
	base := domain.SanitizeHandle(handle)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		suffix, err := randid.String(slugSuffixLength, randid.LowerAlphabet)
		if err != nil {
			return "", fmt.Errorf("generate slug suffix: %w", err)
		}
		slug := base + "-" + suffix

		exists, err := s.repo.PaymentLinkSlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return slug, nil
		}
		s.logger.Debug("slug collision, retrying", "slug", slug, "attempt", attempt)
	}
}
