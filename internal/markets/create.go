package markets

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/calc"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

type CreateMarketRequest struct {
	Description      string
	ExtraInfo        string
	Categories       []string
	Sources          []Source
	Outcomes         int
	OutcomeTags      []resolution.OutcomeTag
	IsScalar         bool
	ScalarMultiplier decimal.Decimal
	CollateralToken  string
	SwapFee          decimal.Decimal
	EndTime          time.Time
	ResolutionTime   time.Time
	// ChallengePeriod falls back to the service default when zero.
	ChallengePeriod time.Duration
	// ValidityBond is taken from the creator's escrow when the market is
	// stored and must cover the configured minimum.
	ValidityBond decimal.Decimal
}

func (s *Service) newMarket(creator string, req CreateMarketRequest, now time.Time) (*Market, error) {
	if creator == "" {
		return nil, ErrMissingCaller
	}
	decimals, ok := s.cfg.Collateral[req.CollateralToken]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollateral, req.CollateralToken)
	}
	if req.Outcomes != len(req.OutcomeTags) {
		return nil, fmt.Errorf("%w: %d outcomes, %d tags", ErrTagCount, req.Outcomes, len(req.OutcomeTags))
	}
	if !req.EndTime.After(now) {
		return nil, ErrEndTimeInPast
	}
	if req.ResolutionTime.Before(req.EndTime) {
		return nil, ErrResolutionBeforeEnd
	}
	if req.ChallengePeriod < 0 {
		return nil, ErrChallengePeriod
	}
	if err := calc.ValidateFee(req.SwapFee); err != nil {
		return nil, err
	}

	bond := req.ValidityBond
	if err := calc.ValidateWireAmount(bond, "validity bond"); err != nil {
		return nil, err
	}
	if bond.LessThan(s.cfg.ValidityBond) {
		return nil, fmt.Errorf("%w: offered %s, required %s", ErrValidityBond, bond, s.cfg.ValidityBond)
	}

	description := strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	if description == "" {
		return nil, ErrEmptyDescription
	}

	tags, err := s.validateTags(req)
	if err != nil {
		return nil, err
	}

	pool, err := amm.NewPool(req.Outcomes, calc.Pow10(decimals), req.SwapFee, s.poolOpts...)
	if err != nil {
		return nil, err
	}

	challenge := req.ChallengePeriod
	if challenge == 0 {
		challenge = s.cfg.DefaultChallengePeriod
	}

	m := &Market{
		Creator:         creator,
		Description:     description,
		ExtraInfo:       strings.TrimSpace(s.sanitizer.Sanitize(req.ExtraInfo)),
		Categories:      s.sanitizeAll(req.Categories),
		Sources:         s.sanitizeSources(req.Sources),
		CollateralToken: req.CollateralToken,
		EndTime:         req.EndTime.UTC(),
		ResolutionTime:  req.ResolutionTime.UTC(),
		Pool:            pool,
		OutcomeTags:     tags,
		IsScalar:        req.IsScalar,
		Payout:          resolution.Unresolved(),
		PendingPayout:   resolution.Unresolved(),
		Enabled:         true,
		ChallengePeriod: challenge,
		ValidityBond:    bond,
		CreatedAt:       now,
	}
	if req.IsScalar {
		m.ScalarMultiplier = req.ScalarMultiplier
	}
	return m, nil
}

func (s *Service) validateTags(req CreateMarketRequest) (resolution.Tags, error) {
	tags := make(resolution.Tags, len(req.OutcomeTags))
	copy(tags, req.OutcomeTags)

	if req.IsScalar {
		if !req.ScalarMultiplier.IsPositive() || !req.ScalarMultiplier.IsInteger() {
			return nil, ErrScalarMultiplier
		}
		if len(tags) != 2 {
			return nil, ErrScalarTags
		}
		bounds := make([]resolution.Number, 2)
		for i, tag := range tags {
			nt, ok := tag.(resolution.NumericTag)
			if !ok {
				return nil, ErrScalarTags
			}
			// bounds written without a multiplier use the market's
			if nt.Multiplier.IsZero() {
				nt.Multiplier = req.ScalarMultiplier
				tags[i] = nt
			}
			if err := nt.Validate(); err != nil {
				return nil, err
			}
			bounds[i] = nt.Number
		}
		if err := resolution.ValidateScalarBounds(bounds[0], bounds[1]); err != nil {
			return nil, err
		}
		return tags, nil
	}

	seen := make(map[string]struct{}, len(tags))
	for i, tag := range tags {
		var key string
		switch t := tag.(type) {
		case resolution.CategoricalTag:
			// labels are matched verbatim against oracle answers, so
			// they are checked rather than rewritten
			t.Label = strings.TrimSpace(t.Label)
			if t.Label == "" {
				return nil, fmt.Errorf("%w: outcome %d", ErrEmptyTag, i)
			}
			if html.UnescapeString(s.sanitizer.Sanitize(t.Label)) != t.Label {
				return nil, fmt.Errorf("%w: outcome %d", ErrTagMarkup, i)
			}
			tags[i] = t
			key = "c:" + t.Label
		case resolution.NumericTag:
			if err := t.Validate(); err != nil {
				return nil, err
			}
			if t.IsNegativeZero() {
				return nil, resolution.ErrNegativeZero
			}
			key = "n:" + canonicalNumber(t.Number)
		default:
			return nil, fmt.Errorf("%w: outcome %d has no tag", ErrEmptyTag, i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
		}
		seen[key] = struct{}{}
	}
	return tags, nil
}

// canonicalNumber renders equal values with different multipliers alike.
func canonicalNumber(n resolution.Number) string {
	v := n.Value.Div(n.Multiplier)
	if n.Negative {
		v = v.Neg()
	}
	return v.String()
}

func (s *Service) sanitizeAll(in []string) []string {
	var out []string
	for _, v := range in {
		if clean := strings.TrimSpace(s.sanitizer.Sanitize(v)); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func (s *Service) sanitizeSources(in []Source) []Source {
	var out []Source
	for _, src := range in {
		name := strings.TrimSpace(s.sanitizer.Sanitize(src.Name))
		url := strings.TrimSpace(src.URL)
		if name == "" && url == "" {
			continue
		}
		out = append(out, Source{Name: name, URL: url})
	}
	return out
}
