package scraper

import (
	"fmt"
	"strings"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
)

// Presence decides whether a raw value counts as supplied for a field.
// normalize.Truthy treats zero and "" as missing; normalize.Present does not.
type Presence func(any) bool

// fieldRule resolves one canonical field from an ordered list of raw aliases.
type fieldRule[T any] struct {
	aliases []string
	present Presence
	convert func(any) (T, bool)
	// retry moves on to the next alias when a present value fails to convert;
	// otherwise the first present alias decides the outcome.
	retry bool
}

func (r fieldRule[T]) resolve(raw map[string]any) (T, bool) {
	var zero T
	for _, alias := range r.aliases {
		v, ok := raw[alias]
		if !ok || !r.present(v) {
			continue
		}
		if out, ok := r.convert(v); ok {
			return out, true
		}
		if !r.retry {
			return zero, false
		}
	}
	return zero, false
}

func (r fieldRule[T]) ptr(raw map[string]any) *T {
	if v, ok := r.resolve(raw); ok {
		return &v
	}
	return nil
}

// vehicleRules is the per-platform alias table for every optional canonical field.
type vehicleRules struct {
	vin      fieldRule[string]
	title    fieldRule[string]
	year     fieldRule[int]
	make     fieldRule[string]
	model    fieldRule[string]
	trim     fieldRule[string]
	price    fieldRule[float64]
	msrp     fieldRule[float64]
	extColor fieldRule[string]
	intColor fieldRule[string]
	odometer fieldRule[int]
	options  fieldRule[string]
}

func (r *vehicleRules) apply(raw map[string]any, v *models.Vehicle) {
	v.Title = r.title.ptr(raw)
	v.Year = r.year.ptr(raw)
	v.Make = r.make.ptr(raw)
	v.Model = r.model.ptr(raw)
	v.Trim = r.trim.ptr(raw)
	v.Price = r.price.ptr(raw)
	v.MSRP = r.msrp.ptr(raw)
	v.ExtColor = r.extColor.ptr(raw)
	v.IntColor = r.intColor.ptr(raw)
	v.Odometer = r.odometer.ptr(raw)
	v.Options = r.options.ptr(raw)
}

func textRule(present Presence, aliases ...string) fieldRule[string] {
	return fieldRule[string]{aliases: aliases, present: present, convert: text}
}

// text flattens lists and trims; a blank result is absent.
func text(v any) (string, bool) {
	s, ok := normalize.JoinList(v)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// identifier accepts string or numeric VINs verbatim apart from surrounding space.
func identifier(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case nil:
		return "", false
	default:
		s = fmt.Sprint(val)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
