package estimate

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Scale enumerates the template scales a quote can be sized at.
type Scale string

const (
	// ScaleSmall sizes the engagement around a dozen screens.
	ScaleSmall Scale = "small"
	// ScaleMedium sizes the engagement around twenty-five to thirty screens.
	ScaleMedium Scale = "medium"
	// ScaleLarge sizes the engagement around forty-five screens.
	ScaleLarge Scale = "large"
)

// DataComplexity enumerates the qualitative data model complexity levels.
type DataComplexity string

const (
	DataComplexityLow    DataComplexity = "low"
	DataComplexityMedium DataComplexity = "medium"
	DataComplexityHigh   DataComplexity = "high"
)

// Category groups estimate line items.
type Category string

const (
	CategoryDevelopment Category = "development"
	CategoryPM          Category = "pm"
)

// Role identifies who carries the effort of a line item.
type Role string

const (
	RoleDev    Role = "dev"
	RoleDesign Role = "design"
	RolePM     Role = "pm"
)

const (
	minScreenFactor = 0.8
	maxScreenFactor = 1.6
	devShare        = 0.6
	designShare     = 0.4
)

var (
	// ErrInvalidRequirements indicates that a requirements payload cannot be estimated.
	ErrInvalidRequirements = errors.New("estimate: invalid requirements")
	// ErrInvalidRates indicates that a rate table carries negative day rates.
	ErrInvalidRates = errors.New("estimate: invalid rates")
)

var baseScreens = map[Scale]float64{
	ScaleSmall:  12.5,
	ScaleMedium: 27.5,
	ScaleLarge:  45,
}

var pmRatios = map[Scale]float64{
	ScaleSmall:  0.08,
	ScaleMedium: 0.10,
	ScaleLarge:  0.12,
}

var dataComplexityFactors = map[DataComplexity]float64{
	DataComplexityLow:    0.90,
	DataComplexityMedium: 1.00,
	DataComplexityHigh:   1.15,
}

// Feature flag names recognised by the engine.
const (
	FeatureAuth        = "auth"
	FeatureRBAC        = "rbac"
	FeatureCRUD        = "crud"
	FeatureSearch      = "search"
	FeatureExternalAPI = "externalApi"
	NonFunctionalPerf  = "performance"
	NonFunctionalSec   = "security"
	NonFunctionalOps   = "operation"
)

var featureIncrements = map[string]float64{
	FeatureAuth:        2.0,
	FeatureRBAC:        1.5,
	FeatureCRUD:        1.0,
	FeatureSearch:      1.5,
	FeatureExternalAPI: 2.5,
}

var nonFunctionalIncrements = map[string]float64{
	NonFunctionalPerf: 1.0,
	NonFunctionalSec:  1.5,
	NonFunctionalOps:  1.0,
}

// Requirements is the structured requirements payload of a quote project.
type Requirements struct {
	TemplateScale  Scale           `json:"templateScale"`
	ScreenMin      int             `json:"screenMin"`
	ScreenMax      int             `json:"screenMax"`
	DataComplexity DataComplexity  `json:"dataComplexity"`
	Features       map[string]bool `json:"features"`
	NonFunctional  map[string]bool `json:"nonFunctional"`
}

// Validate reports whether the payload can be fed to Compute.
func (r Requirements) Validate() error {
	if _, ok := baseScreens[r.TemplateScale]; !ok {
		return fmt.Errorf("%w: unknown template scale %q", ErrInvalidRequirements, r.TemplateScale)
	}
	if _, ok := dataComplexityFactors[r.DataComplexity]; !ok {
		return fmt.Errorf("%w: unknown data complexity %q", ErrInvalidRequirements, r.DataComplexity)
	}
	if r.ScreenMin < 0 {
		return fmt.Errorf("%w: negative screen minimum", ErrInvalidRequirements)
	}
	if r.ScreenMax < r.ScreenMin {
		return fmt.Errorf("%w: screen maximum below minimum", ErrInvalidRequirements)
	}
	return nil
}

// Enabled reports whether the named flag is switched on in either the
// functional or the non-functional flag set.
func (r Requirements) Enabled(flag string) bool {
	name := strings.TrimSpace(flag)
	return r.Features[name] || r.NonFunctional[name]
}

// ParseScale validates raw input and returns a Scale.
func ParseScale(raw string) (Scale, error) {
	scale := Scale(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := baseScreens[scale]; !ok {
		return "", fmt.Errorf("%w: unknown template scale %q", ErrInvalidRequirements, raw)
	}
	return scale, nil
}

// Rates carries the per-role day rates of a rate card.
type Rates struct {
	PMDayRate     int64
	DevDayRate    int64
	DesignDayRate int64
}

// Validate rejects negative day rates.
func (r Rates) Validate() error {
	if r.PMDayRate < 0 || r.DevDayRate < 0 || r.DesignDayRate < 0 {
		return ErrInvalidRates
	}
	return nil
}

// Item is a single derived line item.
type Item struct {
	Category Category
	Role     Role
	Days     float64
}

// Result captures every intermediate value of an estimate along with the line items.
type Result struct {
	BaseScreenCount      float64
	ScreenFactor         float64
	DataComplexityFactor float64
	BaseDays             float64
	FeatureDays          float64
	TotalNonPMDays       float64
	DevDays              float64
	DesignDays           float64
	PMDays               float64
	Items                []Item
	TotalDays            float64
	TotalAmount          float64
}

// Compute derives line items and totals from requirements and rates.
// dev and design days are rounded independently, so their sum is not forced
// to equal TotalNonPMDays.
func Compute(requirements Requirements, rates Rates) (Result, error) {
	if err := requirements.Validate(); err != nil {
		return Result{}, err
	}
	if err := rates.Validate(); err != nil {
		return Result{}, err
	}

	baseScreenCount := baseScreens[requirements.TemplateScale]
	screenFactor := clampScreenFactor(screenAverage(requirements) / baseScreenCount)
	complexityFactor := dataComplexityFactors[requirements.DataComplexity]

	baseDays := baseScreenCount * screenFactor * complexityFactor
	featureDays := FeatureDays(requirements)

	totalNonPMDays := RoundToQuarterDay(baseDays + featureDays)
	pmDays := RoundToQuarterDay(totalNonPMDays * pmRatios[requirements.TemplateScale])
	devDays := RoundToQuarterDay(totalNonPMDays * devShare)
	designDays := RoundToQuarterDay(totalNonPMDays * designShare)

	items := []Item{
		{Category: CategoryDevelopment, Role: RoleDev, Days: devDays},
		{Category: CategoryDevelopment, Role: RoleDesign, Days: designDays},
		{Category: CategoryPM, Role: RolePM, Days: pmDays},
	}

	return Result{
		BaseScreenCount:      baseScreenCount,
		ScreenFactor:         screenFactor,
		DataComplexityFactor: complexityFactor,
		BaseDays:             baseDays,
		FeatureDays:          featureDays,
		TotalNonPMDays:       totalNonPMDays,
		DevDays:              devDays,
		DesignDays:           designDays,
		PMDays:               pmDays,
		Items:                items,
		TotalDays:            devDays + designDays + pmDays,
		TotalAmount: devDays*float64(rates.DevDayRate) +
			designDays*float64(rates.DesignDayRate) +
			pmDays*float64(rates.PMDayRate),
	}, nil
}

// ScreenFactor returns the clamped ratio between the requested screen average
// and the base screen count of the scale.
func ScreenFactor(requirements Requirements) (float64, error) {
	baseScreenCount, ok := baseScreens[requirements.TemplateScale]
	if !ok {
		return 0, fmt.Errorf("%w: unknown template scale %q", ErrInvalidRequirements, requirements.TemplateScale)
	}
	return clampScreenFactor(screenAverage(requirements) / baseScreenCount), nil
}

// FeatureDays sums the fixed increments of every enabled flag. Unknown flags contribute nothing.
func FeatureDays(requirements Requirements) float64 {
	total := 0.0
	for name, increment := range featureIncrements {
		if requirements.Features[name] {
			total += increment
		}
	}
	for name, increment := range nonFunctionalIncrements {
		if requirements.NonFunctional[name] {
			total += increment
		}
	}
	return total
}

// RoundToQuarterDay rounds to the nearest 0.25 using round-half-up on value*4.
func RoundToQuarterDay(value float64) float64 {
	return math.Floor(value*4+0.5) / 4
}

func screenAverage(requirements Requirements) float64 {
	return float64(requirements.ScreenMin+requirements.ScreenMax) / 2
}

func clampScreenFactor(value float64) float64 {
	return math.Max(minScreenFactor, math.Min(maxScreenFactor, value))
}
