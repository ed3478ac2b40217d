package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInvoice(t *testing.T) {
	v := NewValidator(20000)

	tests := []struct {
		name   string
		input  InvoiceData
		valid  bool
		reason string
	}{
		{"valid", InvoiceData{NIC: "1234567", ReadingDate: "05/03/2024", ConsumptionKWh: 312.5}, true, ""},
		{"zero consumption", InvoiceData{NIC: "1234567", ReadingDate: "05/03/2024"}, true, ""},
		{"missing nic", InvoiceData{NIC: "  ", ReadingDate: "05/03/2024", ConsumptionKWh: 10}, false, "empty meter id"},
		{"missing date", InvoiceData{NIC: "1234567", ConsumptionKWh: 10}, false, "empty reading date"},
		{"negative", InvoiceData{NIC: "1234567", ReadingDate: "05/03/2024", ConsumptionKWh: -1}, false, "negative value detected"},
		{"nan", InvoiceData{NIC: "1234567", ReadingDate: "05/03/2024", ConsumptionKWh: math.NaN()}, false, "consumption is not a number"},
		{"above ceiling", InvoiceData{NIC: "1234567", ReadingDate: "05/03/2024", ConsumptionKWh: 25000}, false, "consumption above 20000 kWh ceiling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateInvoice(tt.input)
			assert.Equal(t, tt.valid, result.IsValid)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestValidateInvoice_NoCeiling(t *testing.T) {
	result := NewValidator(0).ValidateInvoice(InvoiceData{NIC: "1", ReadingDate: "2024-01-01", ConsumptionKWh: 1e6})
	assert.True(t, result.IsValid)
}

func TestFilterChartPoints(t *testing.T) {
	v := NewValidator(20000)

	kept, rejected := v.FilterChartPoints([]ChartPoint{
		{Date: "01/24", KWh: 120},
		{Date: "", KWh: 90},
		{Date: "02/24", KWh: -5},
		{Date: "enero", KWh: 100},
	})

	assert.Equal(t, []ChartPoint{{Date: "01/24", KWh: 120}, {Date: "enero", KWh: 100}}, kept)
	assert.Equal(t, []string{"chart row without date", "chart row 02/24: negative value detected"}, rejected)
}
