package validator

import (
	"fmt"
	"math"
	"strings"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// InvoiceData is the subset of an extracted invoice that must be sane before storage
type InvoiceData struct {
	NIC            string
	ReadingDate    string
	ConsumptionKWh float64
}

// ChartPoint is one monthly value read from an invoice chart
type ChartPoint struct {
	Date string
	KWh  float64
}

// Validator screens extracted invoices before they reach the database
type Validator struct {
	maxMonthlyKWh float64
}

// NewValidator creates a new validator. Readings above maxMonthlyKWh are
// treated as extraction errors; zero disables the ceiling.
func NewValidator(maxMonthlyKWh float64) *Validator {
	return &Validator{maxMonthlyKWh: maxMonthlyKWh}
}

// ValidateInvoice checks the fields every stored invoice needs
func (v *Validator) ValidateInvoice(inv InvoiceData) ValidationResult {
	if strings.TrimSpace(inv.NIC) == "" {
		return ValidationResult{Reason: "empty meter id"}
	}

	if strings.TrimSpace(inv.ReadingDate) == "" {
		return ValidationResult{Reason: "empty reading date"}
	}

	if reason := v.checkValue(inv.ConsumptionKWh); reason != "" {
		return ValidationResult{Reason: reason}
	}

	return ValidationResult{IsValid: true}
}

// FilterChartPoints keeps the chart rows worth ingesting and explains the rest
func (v *Validator) FilterChartPoints(points []ChartPoint) ([]ChartPoint, []string) {
	kept := make([]ChartPoint, 0, len(points))
	var rejected []string

	for _, p := range points {
		if strings.TrimSpace(p.Date) == "" {
			rejected = append(rejected, "chart row without date")
			continue
		}
		if reason := v.checkValue(p.KWh); reason != "" {
			rejected = append(rejected, fmt.Sprintf("chart row %s: %s", p.Date, reason))
			continue
		}
		kept = append(kept, p)
	}

	return kept, rejected
}

func (v *Validator) checkValue(kwh float64) string {
	if math.IsNaN(kwh) || math.IsInf(kwh, 0) {
		return "consumption is not a number"
	}
	if kwh < 0 {
		return "negative value detected"
	}
	if v.maxMonthlyKWh > 0 && kwh > v.maxMonthlyKWh {
		return fmt.Sprintf("consumption above %.0f kWh ceiling", v.maxMonthlyKWh)
	}
	return ""
}
