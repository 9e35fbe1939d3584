package estimation

import (
	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
)

// Aggregate recomputes every line, intervention, section and grand total
// of est from its line items. Running it twice changes nothing.
func Aggregate(est *api.Estimate) {
	if est == nil {
		return
	}
	grand := decimal.Zero
	for si := range est.Sections {
		s := &est.Sections[si]
		section := decimal.Zero
		for ii := range s.Interventions {
			ic := &s.Interventions[ii]
			for mi := range ic.Materials {
				m := &ic.Materials[mi]
				m.TotalPrice = api.LineTotal(m.Qty, m.UnitPrice)
			}
			ic.TotalCost = interventionTotal(ic.Materials)
			section = section.Add(ic.TotalCost)
		}
		s.TotalCost = section
		grand = grand.Add(section)
	}
	est.Total = grand
}
