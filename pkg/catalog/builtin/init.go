package builtin

import (
	"github.com/ethpandaops/kpt/pkg/catalog"
	"github.com/ethpandaops/kpt/pkg/models"
)

//nolint:gochecknoglobals // shared parameter descriptions
var (
	sourceParam     = models.FunctionParam{Name: catalog.SourceParam, Type: models.ParamDataItem, Required: true}
	inputItemsParam = models.FunctionParam{Name: paramInputItems, Type: models.ParamDataItem, Required: true}
)

func init() {
	registerSimple("Sum", reducer{name: "sum", numericOnly: true, reduce: sum})
	registerSimple("Mean", reducer{name: "mean", numericOnly: true, reduce: mean})
	registerSimple("StandardDeviation", reducer{name: "std", numericOnly: true, reduce: stdDev})
	registerSimple("Variance", reducer{name: "var", numericOnly: true, reduce: variance})
	registerSimple("Product", reducer{name: "prod", numericOnly: true, reduce: product})
	registerSimple("Minimum", reducer{name: "min", reduce: func(v []any) any { return extreme(v, -1) }})
	registerSimple("Maximum", reducer{name: "max", reduce: func(v []any) any { return extreme(v, 1) }})
	registerSimple("Count", reducer{name: "count", reduce: count})
	registerSimple("DistinctCount", reducer{name: "nunique", reduce: distinct})
	registerSimple("First", reducer{name: "first", reduce: first})
	registerSimple("Last", reducer{name: "last", reduce: last})

	catalog.Register("Range", catalog.Entry{
		Kind:        catalog.KindAggregator,
		Aggregation: catalog.AggregationComplex,
		Inputs:      []models.FunctionParam{sourceParam},
		NewComplex:  newRange,
	})

	catalog.Register("Median", catalog.Entry{
		Kind:        catalog.KindAggregator,
		Aggregation: catalog.AggregationDirect,
		Inputs:      []models.FunctionParam{sourceParam},
		NewDirect:   newMedian,
	})

	catalog.Register("Multiply", catalog.Entry{
		Kind:           catalog.KindTransformer,
		Inputs:         []models.FunctionParam{inputItemsParam, {Name: paramFactor, Type: "LITERAL"}},
		NewTransformer: newMultiply,
	})

	catalog.Register("Difference", catalog.Entry{
		Kind: catalog.KindTransformer,
		Inputs: []models.FunctionParam{
			{Name: paramMinuend, Type: models.ParamDataItem, Required: true},
			{Name: paramSubtrahend, Type: models.ParamDataItem, Required: true},
		},
		NewTransformer: newDifference,
	})

	catalog.Register("ThresholdAlert", catalog.Entry{
		Kind: catalog.KindTransformer,
		Inputs: []models.FunctionParam{
			sourceParam,
			{Name: paramThreshold, Type: "LITERAL", Required: true},
			{Name: paramDirection, Type: "LITERAL"},
		},
		NewTransformer: newThresholdAlert,
	})

	catalog.Register("Coalesce", catalog.Entry{
		Kind:           catalog.KindTransformer,
		Inputs:         []models.FunctionParam{inputItemsParam},
		NewTransformer: newCoalesce,
	})

	catalog.Register("EntityConstants", catalog.Entry{
		Kind:           catalog.KindLoader,
		Inputs:         []models.FunctionParam{{Name: paramConstants, Type: models.ParamConstant, Required: true}},
		NewTransformer: newEntityConstants,
	})
}
