package prompt

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/missionflow/pkg/models"
)

// Depth is the review depth a mission can be asked to run at.
type Depth string

const (
	DepthTriage       Depth = "triage"
	DepthAttorneyPrep Depth = "attorney-prep"
	DepthFullReview   Depth = "full-review"
)

// DefaultDepth is used when no valid depth was supplied.
const DefaultDepth = DepthTriage

// DepthParameter is the parameter name that carries the review depth.
const DepthParameter = "review_depth"

var allowedDepths = []string{string(DepthTriage), string(DepthAttorneyPrep), string(DepthFullReview)}

// ResolveInputs validates inputs against the declared parameters and falls
// back to safe defaults. It never fails; the result holds one value per
// declared parameter.
func ResolveInputs(params []models.ParameterSpec, inputs map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))

	for _, p := range params {
		value, ok := inputs[p.Name]
		if !ok || value == nil {
			resolved[p.Name] = defaultFor(p)

			continue
		}

		resolved[p.Name] = coerceInput(p, value)
	}

	return resolved
}

func allowed(p models.ParameterSpec) []string {
	if p.Name == DepthParameter {
		return allowedDepths
	}

	return p.Enum
}

func defaultFor(p models.ParameterSpec) any {
	switch p.Type {
	case models.ParameterTypeEnum:
		values := allowed(p)
		if def, ok := p.Default.(string); ok && slices.Contains(values, def) {
			return def
		}

		if p.Name == DepthParameter {
			return string(DefaultDepth)
		}

		if len(values) > 0 {
			return values[0]
		}

		return ""
	case models.ParameterTypeBool:
		b, _ := p.Default.(bool)

		return b
	case models.ParameterTypeInt:
		return toInt(p.Default)
	case models.ParameterTypeString:
	}

	if p.Default == nil {
		return ""
	}

	return fmt.Sprint(p.Default)
}

func coerceInput(p models.ParameterSpec, value any) any {
	switch p.Type {
	case models.ParameterTypeEnum:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
		if slices.Contains(allowed(p), s) {
			return s
		}

		return defaultFor(p)
	case models.ParameterTypeBool:
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}

		return defaultFor(p)
	case models.ParameterTypeInt:
		if v, ok := value.(string); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}

			return defaultFor(p)
		}

		return toInt(value)
	case models.ParameterTypeString:
	}

	return fmt.Sprint(value)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}

	return 0
}
