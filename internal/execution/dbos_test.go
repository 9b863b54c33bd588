package execution

import (
	"context"
	"fmt"
	"testing"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/venuetest"
)

// mockDBOSContext runs RunAsStep's function inline and hands back a
// scripted result/error per call, the same shape as the corpus's
// MockDBOSContext: enough to exercise a workflow's branching without a
// real dbos system database.
type mockDBOSContext struct {
	dbos.DBOSContext
	stepResults []any
	stepErrors  []error
	stepIndex   int
}

func (m *mockDBOSContext) RunAsStep(ctx dbos.DBOSContext, fn dbos.StepFunc, opts ...dbos.StepOption) (any, error) {
	res, err := fn(context.Background())
	if m.stepIndex < len(m.stepErrors) && m.stepErrors[m.stepIndex] != nil {
		err = m.stepErrors[m.stepIndex]
	}
	if m.stepIndex < len(m.stepResults) {
		res = m.stepResults[m.stepIndex]
	}
	m.stepIndex++
	return res, err
}

func TestEntryWorkflowBothLegsFillPromotesToOpen(t *testing.T) {
	long := venuetest.New("venueA")
	short := venuetest.New("venueB")
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	res, err := eng.entryWorkflow(&mockDBOSContext{}, testPlan())
	require.NoError(t, err)
	result := res.(OpenResult)
	assert.Equal(t, StateOpen, result.State)
	require.Len(t, result.Positions, 2)
}

func TestEntryWorkflowUnwindsLongLegWhenShortFails(t *testing.T) {
	long := venuetest.New("venueA")
	short := venuetest.New("venueB")
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	mockCtx := &mockDBOSContext{
		stepErrors: []error{nil, fmt.Errorf("short leg rejected"), nil},
	}

	res, err := eng.entryWorkflow(mockCtx, testPlan())
	require.Error(t, err)
	result := res.(OpenResult)
	assert.Equal(t, StateIdle, result.State)
	require.NotNil(t, result.Incident)
	assert.Equal(t, "venueA", result.Incident.FilledVenue)
}

// TestExitLegWorkflowSubmitsReducingOrder covers the per-leg sub-workflow
// exitWorkflow launches one of per side; exitWorkflow itself is a thin
// cancel-then-launch-two-subworkflows wrapper with no branching of its own
// to assert on here.
func TestExitLegWorkflowSubmitsReducingOrder(t *testing.T) {
	long := venuetest.New("venueA")
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long}, logging.NewNop())

	res, err := eng.exitLegWorkflow(&mockDBOSContext{}, closeLegInput{
		Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideShort, Size: decimal.NewFromFloat(1), ClientOrderID: "plan-1-close-long",
	})
	require.NoError(t, err)
	ack := res.(core.OrderAck)
	assert.Equal(t, core.OrderStatusFilled, ack.Status)
}
