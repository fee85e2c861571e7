package routing

import (
	"fmt"
	"strings"
)

// CostingModel is the travel-mode profile used to weight paths.
type CostingModel string

const (
	CostingAuto        CostingModel = "auto"
	CostingAutoShorter CostingModel = "auto_shorter"
	CostingBicycle     CostingModel = "bicycle"
	CostingBus         CostingModel = "bus"
	CostingMultimodal  CostingModel = "multimodal"
	CostingPedestrian  CostingModel = "pedestrian"
)

// DefaultCosting is the costing model selected when nothing else is chosen.
const DefaultCosting = CostingAuto

var costingTitles = map[CostingModel]string{
	CostingAuto:        "Auto",
	CostingAutoShorter: "Shorter Distance Auto",
	CostingBicycle:     "Bicycle",
	CostingBus:         "Bus",
	CostingMultimodal:  "Multimodal",
	CostingPedestrian:  "Walking",
}

// CostingModels lists every model in menu order.
var CostingModels = []CostingModel{
	CostingAuto,
	CostingAutoShorter,
	CostingBicycle,
	CostingBus,
	CostingMultimodal,
	CostingPedestrian,
}

// IsValid reports whether c is a known costing model.
func (c CostingModel) IsValid() bool {
	_, ok := costingTitles[c]
	return ok
}

// Title returns the menu label for c.
func (c CostingModel) Title() string {
	return costingTitles[c]
}

func (c CostingModel) String() string {
	return string(c)
}

// ParseCostingModel converts a wire name to a CostingModel. Matching is case
// insensitive and accepts "auto-shorter-distance" for auto_shorter.
func ParseCostingModel(s string) (CostingModel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "auto-shorter-distance", "auto-shorter":
		return CostingAutoShorter, nil
	}
	c := CostingModel(norm)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid costing model: %s", s)
	}
	return c, nil
}

// averageSpeedKPH holds the straight-line estimator speeds.
var averageSpeedKPH = map[CostingModel]float64{
	CostingAuto:        60.0,
	CostingAutoShorter: 50.0,
	CostingBicycle:     15.0,
	CostingBus:         30.0,
	CostingMultimodal:  25.0,
	CostingPedestrian:  5.0,
}
