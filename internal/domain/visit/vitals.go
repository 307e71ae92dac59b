package visit

import (
	"fmt"

	"github.com/clinic/clinic/internal/platform/errs"
)

// VitalSigns is the structured measurement block a nursing assessment may
// attach to its collected data under the "vital_signs" key.
type VitalSigns struct {
	SystolicBP       *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP      *float64 `json:"diastolic_bp,omitempty"`
	HeartRate        *float64 `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	BloodGlucose     *float64 `json:"blood_glucose,omitempty"`
	RespiratoryRate  *float64 `json:"respiratory_rate,omitempty"`
}

type vitalRange struct {
	field string
	min   float64
	max   float64
	unit  string
}

var vitalRanges = []struct {
	get func(*VitalSigns) *float64
	vitalRange
}{
	{func(v *VitalSigns) *float64 { return v.SystolicBP }, vitalRange{"systolic_bp", 50, 300, "mmHg"}},
	{func(v *VitalSigns) *float64 { return v.DiastolicBP }, vitalRange{"diastolic_bp", 30, 200, "mmHg"}},
	{func(v *VitalSigns) *float64 { return v.HeartRate }, vitalRange{"heart_rate", 20, 300, "bpm"}},
	{func(v *VitalSigns) *float64 { return v.Temperature }, vitalRange{"temperature", 30, 45, "C"}},
	{func(v *VitalSigns) *float64 { return v.Weight }, vitalRange{"weight", 0.5, 500, "kg"}},
	{func(v *VitalSigns) *float64 { return v.Height }, vitalRange{"height", 30, 250, "cm"}},
	{func(v *VitalSigns) *float64 { return v.OxygenSaturation }, vitalRange{"oxygen_saturation", 50, 100, "%"}},
	{func(v *VitalSigns) *float64 { return v.BloodGlucose }, vitalRange{"blood_glucose", 1, 50, "mmol/L"}},
	{func(v *VitalSigns) *float64 { return v.RespiratoryRate }, vitalRange{"respiratory_rate", 4, 60, "breaths/min"}},
}

// ParseVitals extracts and validates a vital-signs block from collected stage
// data. Returns nil when raw carries no "vital_signs" key. Non-numeric or
// out-of-range values are validation errors.
func ParseVitals(raw map[string]interface{}) (*VitalSigns, error) {
	blockRaw, ok := raw["vital_signs"]
	if !ok || blockRaw == nil {
		return nil, nil
	}
	block, ok := blockRaw.(map[string]interface{})
	if !ok {
		return nil, errs.E(errs.KindValidation, "vital_signs must be an object")
	}

	v := &VitalSigns{}
	fields := map[string]**float64{
		"systolic_bp":       &v.SystolicBP,
		"diastolic_bp":      &v.DiastolicBP,
		"heart_rate":        &v.HeartRate,
		"temperature":       &v.Temperature,
		"weight":            &v.Weight,
		"height":            &v.Height,
		"oxygen_saturation": &v.OxygenSaturation,
		"blood_glucose":     &v.BloodGlucose,
		"respiratory_rate":  &v.RespiratoryRate,
	}
	for key, dst := range fields {
		val, ok := block[key]
		if !ok || val == nil {
			continue
		}
		f, err := asFloat(val)
		if err != nil {
			return nil, errs.E(errs.KindValidation, "vital_signs.%s must be numeric", key)
		}
		*dst = &f
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks every supplied measurement against its clinical range.
func (v *VitalSigns) Validate() error {
	for _, r := range vitalRanges {
		val := r.get(v)
		if val == nil {
			continue
		}
		if *val < r.min || *val > r.max {
			return errs.E(errs.KindValidation,
				"vital_signs.%s %.1f out of range (%.1f-%.1f %s)", r.field, *val, r.min, r.max, r.unit)
		}
	}
	if v.SystolicBP != nil && v.DiastolicBP != nil && *v.SystolicBP <= *v.DiastolicBP {
		return errs.E(errs.KindValidation,
			"vital_signs systolic_bp must exceed diastolic_bp (%.0f/%.0f)", *v.SystolicBP, *v.DiastolicBP)
	}
	return nil
}

func asFloat(val interface{}) (float64, error) {
	switch n := val.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not numeric: %T", val)
	}
}
