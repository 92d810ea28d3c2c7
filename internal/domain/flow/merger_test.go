package flow_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookingFragment(t *testing.T, priority int, rules flow.BookingRules) flow.ActionFragment {
	t.Helper()
	payload, err := json.Marshal(rules)
	require.NoError(t, err)
	return flow.ActionFragment{
		ID:         uuid.New(),
		ActionKind: flow.ActionKindBookingRules,
		Priority:   priority,
		Payload:    payload,
	}
}

func boolp(v bool) *bool { return &v }

func TestMerge_Empty(t *testing.T) {
	merged, err := flow.Merge(nil)
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestMerge_SingletonBookingRulesUnchanged(t *testing.T) {
	frag := bookingFragment(t, 0, flow.BookingRules{
		MaxDaysAhead:                intp(30),
		DoNotAllowSameDayScheduling: boolp(false),
	})

	merged, err := flow.Merge([]flow.ActionFragment{frag})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, rules.MaxDaysAhead)
	assert.Equal(t, 30, *rules.MaxDaysAhead)
	require.NotNil(t, rules.DoNotAllowSameDayScheduling)
	assert.False(t, *rules.DoNotAllowSameDayScheduling)
	assert.Nil(t, rules.MinHoursNotice)
}

func TestMerge_HigherPriorityFieldWins(t *testing.T) {
	high := bookingFragment(t, 10, flow.BookingRules{MaxDaysAhead: intp(7)})
	low := bookingFragment(t, 1, flow.BookingRules{MaxDaysAhead: intp(60), MinHoursNotice: intp(24)})

	merged, err := flow.Merge([]flow.ActionFragment{low, high})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 7, *rules.MaxDaysAhead)
	// Fields the high-priority fragment leaves undefined fall through.
	assert.Equal(t, 24, *rules.MinHoursNotice)
}

func TestMerge_ExplicitFalseNeverOverwritten(t *testing.T) {
	high := bookingFragment(t, 5, flow.BookingRules{
		DoNotAllowSameDayScheduling: boolp(false),
		MaxResultsPerSearch:         intp(0),
	})
	low := bookingFragment(t, 1, flow.BookingRules{
		DoNotAllowSameDayScheduling: boolp(true),
		MaxResultsPerSearch:         intp(10),
	})

	merged, err := flow.Merge([]flow.ActionFragment{low, high})
	require.NoError(t, err)

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, rules.DoNotAllowSameDayScheduling)
	assert.False(t, *rules.DoNotAllowSameDayScheduling)
	require.NotNil(t, rules.MaxResultsPerSearch)
	assert.Equal(t, 0, *rules.MaxResultsPerSearch)
}

func TestMerge_TiesBreakOnMatchOrder(t *testing.T) {
	first := bookingFragment(t, 0, flow.BookingRules{MaxDaysAhead: intp(15)})
	second := bookingFragment(t, 0, flow.BookingRules{MaxDaysAhead: intp(45)})

	merged, err := flow.Merge([]flow.ActionFragment{first, second})
	require.NoError(t, err)

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 15, *rules.MaxDaysAhead)
}

func TestMerge_ConfirmationRulesTakenWholesale(t *testing.T) {
	low := flow.ActionFragment{
		ID:         uuid.New(),
		ActionKind: flow.ActionKindConfirmationRules,
		Priority:   1,
		Payload:    json.RawMessage(`{"message":"low","sendBeforeHours":24}`),
	}
	high := flow.ActionFragment{
		ID:         uuid.New(),
		ActionKind: flow.ActionKindConfirmationRules,
		Priority:   9,
		Payload:    json.RawMessage(`{"message":"high"}`),
	}

	merged, err := flow.Merge([]flow.ActionFragment{low, high})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	// The winning fragment is carried verbatim; no field from the losing
	// fragment bleeds in.
	assert.Equal(t, high.ID, merged[0].ID)
	assert.JSONEq(t, `{"message":"high"}`, string(merged[0].Payload))
}

func TestMerge_OtherKindsPassThrough(t *testing.T) {
	a := flow.ActionFragment{ID: uuid.New(), ActionKind: flow.ActionKindInstruction, Payload: json.RawMessage(`"a"`)}
	b := flow.ActionFragment{ID: uuid.New(), ActionKind: flow.ActionKindInstruction, Payload: json.RawMessage(`"b"`)}

	merged, err := flow.Merge([]flow.ActionFragment{a, b})
	require.NoError(t, err)
	assert.Equal(t, []flow.ActionFragment{a, b}, merged)
}

func TestMerge_OnePolicyPerKind(t *testing.T) {
	booking := bookingFragment(t, 0, flow.BookingRules{MaxDaysAhead: intp(30)})
	confirmation := flow.ActionFragment{
		ID:         uuid.New(),
		ActionKind: flow.ActionKindConfirmationRules,
		Payload:    json.RawMessage(`{"message":"see you"}`),
	}

	merged, err := flow.Merge([]flow.ActionFragment{booking, confirmation, bookingFragment(t, 2, flow.BookingRules{})})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, flow.ActionKindBookingRules, merged[0].ActionKind)
	assert.Equal(t, flow.ActionKindConfirmationRules, merged[1].ActionKind)
}

func TestMerge_MalformedBookingPayload(t *testing.T) {
	bad := flow.ActionFragment{
		ID:         uuid.New(),
		ActionKind: flow.ActionKindBookingRules,
		Payload:    json.RawMessage(`{not json`),
	}

	_, err := flow.Merge([]flow.ActionFragment{bad})
	assert.Error(t, err)
}
