package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/repository"
)

const (
	// matchShortlistLimit caps the athlete shortlist per result.
	matchShortlistLimit = 50
	// matchDiscardScore is the distance above which a candidate is dropped.
	matchDiscardScore = 0.6
	// autoMatchCandidateScore is the distance under which a candidate
	// counts towards auto-linking.
	autoMatchCandidateScore = 0.3
	// autoMatchConfidence is the confidence an auto-link requires, and
	// exactly one candidate may reach it.
	autoMatchConfidence = 90
)

// MatchCandidate is one scored athlete suggestion for a race result.
type MatchCandidate struct {
	Athlete    *models.Athlete `json:"athlete"`
	Score      float64         `json:"score"`      // 0 identical .. 1 unrelated
	Confidence int             `json:"confidence"` // 0-100
}

// MatchService links race results to athlete identities by fuzzy name
// matching over normalised names.
type MatchService struct {
	repos  *repository.Repositories
	logger *slog.Logger
	dice   *metrics.SorensenDice
}

// NewMatchService creates a new match service.
func NewMatchService(repos *repository.Repositories, logger *slog.Logger) *MatchService {
	dice := metrics.NewSorensenDice()
	dice.NgramSize = 2
	return &MatchService{
		repos:  repos,
		logger: logger,
		dice:   dice,
	}
}

// score is the bigram Sorensen-Dice distance between two normalised names.
func (s *MatchService) score(a, b string) float64 {
	return 1 - strutil.Similarity(a, b, s.dice)
}

// Suggest returns scored athlete candidates for one result, best first.
// Candidates scoring worse than the discard threshold are omitted.
func (s *MatchService) Suggest(ctx context.Context, resultID string) ([]MatchCandidate, error) {
	result, err := s.repos.Result.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("result %s not found", resultID)
	}
	return s.candidatesFor(ctx, result.NormalizedName)
}

// candidatesFor shortlists athletes by substring search and scores them.
func (s *MatchService) candidatesFor(ctx context.Context, normalizedName string) ([]MatchCandidate, error) {
	if normalizedName == "" {
		return nil, nil
	}

	athletes, err := s.repos.Athlete.SearchByNormalizedName(ctx, normalizedName, matchShortlistLimit)
	if err != nil {
		return nil, err
	}

	var candidates []MatchCandidate
	for _, athlete := range athletes {
		score := s.score(normalizedName, athlete.NormalizedName)
		if score >= matchDiscardScore {
			continue
		}
		candidates = append(candidates, MatchCandidate{
			Athlete:    athlete,
			Score:      score,
			Confidence: int(math.Round((1 - score) * 100)),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	return candidates, nil
}

// AutoMatch links unlinked results to athletes where the match is
// unambiguous: among the close candidates exactly one reaches the
// auto-match confidence. Returns the number of results linked.
func (s *MatchService) AutoMatch(ctx context.Context, limit int) (int, error) {
	results, err := s.repos.Result.GetUnlinked(ctx, limit)
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, result := range results {
		candidates, err := s.candidatesFor(ctx, result.NormalizedName)
		if err != nil {
			return linked, err
		}

		var near []MatchCandidate
		for _, c := range candidates {
			if c.Score < autoMatchCandidateScore {
				near = append(near, c)
			}
		}

		var confident []MatchCandidate
		for _, c := range near {
			if c.Confidence >= autoMatchConfidence {
				confident = append(confident, c)
			}
		}
		if len(confident) != 1 {
			continue
		}

		if err := s.repos.Result.LinkAthlete(ctx, result.ID, confident[0].Athlete.ID); err != nil {
			return linked, err
		}
		linked++
		s.logger.Debug("auto-linked result",
			"result_id", result.ID, "athlete_id", confident[0].Athlete.ID,
			"confidence", confident[0].Confidence)
	}

	if linked > 0 {
		s.logger.Info("auto-match pass complete", "examined", len(results), "linked", linked)
	}
	return linked, nil
}

// SuggestForAthlete returns unlinked results that plausibly belong to an
// athlete, scored like Suggest.
func (s *MatchService) SuggestForAthlete(ctx context.Context, athleteID string, limit int) ([]*models.RaceResult, error) {
	athlete, err := s.repos.Athlete.GetByID(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if athlete == nil {
		return nil, fmt.Errorf("athlete %s not found", athleteID)
	}

	results, err := s.repos.Result.GetUnlinkedMatchingName(ctx, athlete.NormalizedName, limit)
	if err != nil {
		return nil, err
	}

	var matches []*models.RaceResult
	for _, result := range results {
		if s.score(athlete.NormalizedName, result.NormalizedName) < matchDiscardScore {
			matches = append(matches, result)
		}
	}
	return matches, nil
}
