package scraper

import (
	"strings"

	"github.com/kolgrow/kolgrow/internal/models"
)

var bioSpamKeywords = []string{"bot", "spam", "promo", "follow4follow", "f4f"}

// Score rates a scraped profile from 0 to 100 and assigns its tier.
// Mid-sized accounts with real posting activity score highest; obvious
// follow-farm profiles are pushed into the low tier.
func Score(p Profile) (int, models.QualityTier) {
	score := 50

	switch {
	case p.FollowerCount >= 100 && p.FollowerCount <= 10000:
		score += 15
	case p.FollowerCount > 10000:
		score += 10
	default:
		score -= 10
	}

	if p.FollowerCount > 0 {
		ratio := float64(p.FollowingCount) / float64(p.FollowerCount)
		if ratio > 5 {
			score -= 20
		} else if ratio < 1 {
			score += 10
		}
	}

	switch {
	case p.PostCount >= 10:
		score += 10
	case p.PostCount == 0:
		score -= 15
	}

	if p.Bio != "" {
		score += 5
		bio := strings.ToLower(p.Bio)
		for _, kw := range bioSpamKeywords {
			if strings.Contains(bio, kw) {
				score -= 25
				break
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score >= 70:
		return score, models.TierHigh
	case score >= 40:
		return score, models.TierMedium
	default:
		return score, models.TierLow
	}
}
