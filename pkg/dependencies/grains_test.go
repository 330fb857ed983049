package dependencies

import (
	"testing"

	"github.com/ethpandaops/kpt/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan(t *testing.T) {
	daily := &models.Granularity{Name: "daily", Frequency: "D", EntityFirst: true}
	weekly := &models.Granularity{Name: "weekly", Frequency: "W", EntityFirst: true}
	bySite := &models.Granularity{Name: "site", Dimensions: []string{"site"}}

	siteLabel := copyDecl("site", "site_label")
	siteLabel.Granularity = bySite

	decls := []*models.Declaration{
		copyDecl("x", "y"),
		sumDecl("y", "y_daily", daily),
		sumDecl("y_daily", "y_weekly", weekly),
		copyDecl("y_daily", "y_daily_copy"),
		sumDecl("v", "v_site", bySite),
		siteLabel,
		sumDecl("y_daily_copy", "ignored", daily),
	}

	cat := testCatalog()
	res, err := NewBuilder(testLogger(), cat, testItems()).Build(decls)
	require.NoError(t, err)

	plan, err := BuildPlan(testLogger(), res, ProcessingQueue(res), cat)
	require.NoError(t, err)

	require.Len(t, plan.Raw, 1)
	assert.Equal(t, "y", plan.Raw[0].Name)

	grains := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		grains = append(grains, s.Grain.Name)
	}

	assert.Equal(t, []string{"site", "daily", "weekly"}, grains)

	dailyStep := plan.Steps[1]
	require.Len(t, dailyStep.Inputs, 1)
	assert.Nil(t, dailyStep.Inputs[0].DepGrain)
	assert.Equal(t, "y_daily", dailyStep.Inputs[0].Aggregators[0].Name)
	require.Len(t, dailyStep.Transformers, 1)
	assert.Equal(t, "y_daily_copy", dailyStep.Transformers[0].Name)
	require.Len(t, dailyStep.Ignored, 1)
	assert.Equal(t, "ignored", dailyStep.Ignored[0].Name)

	siteStep := plan.Steps[0]
	require.Len(t, siteStep.Inputs, 1)
	require.Len(t, siteStep.Transformers, 1)
	assert.Equal(t, "site_label", siteStep.Transformers[0].Name)

	weeklyStep := plan.Steps[2]
	require.Len(t, weeklyStep.Inputs, 1)
	assert.Equal(t, "daily", weeklyStep.Inputs[0].DepGrain.Name)

	assert.Equal(t, 4+(1+2)+5*3+(1+3)+(1+3), plan.TotalStages(cat))
}

func TestTreeInfo(t *testing.T) {
	res, err := NewBuilder(testLogger(), testCatalog(), testItems()).Build([]*models.Declaration{
		copyDecl("x", "a"),
		copyDecl("a", "b"),
	})
	require.NoError(t, err)

	info := GetTreeInfo(res)
	assert.Equal(t, 2, info.MaxLevel)
	assert.Equal(t, []string{"x"}, info.RootNodes)
	assert.Equal(t, []string{"a"}, info.Dependents["x"])
	assert.Equal(t, 3, info.TotalNodes)

	dot := GenerateDOTFormat(res)
	assert.Contains(t, dot, "\"x\" -> \"a\";")
	assert.Contains(t, dot, "\"a\" -> \"b\";")
}
