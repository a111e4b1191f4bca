package ruleengine

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func timePtr(t time.Time) *time.Time { return &t }

func cartWithSubtotal(s string, items ...LineItem) CartSnapshot {
	return CartSnapshot{Items: items, Subtotal: decimal.RequireFromString(s)}
}

// recordingObserver collects observer callbacks keyed by rule id.
type recordingObserver struct {
	mu      sync.Mutex
	reasons map[int64]Reason
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{reasons: make(map[int64]Reason)}
}

func (o *recordingObserver) RuleEvaluated(ruleID int64, _ bool, reason Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons[ruleID] = reason
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rules      []Rule
		input      EvaluationInput
		wantIDs    []int64
		wantReason map[int64]Reason
	}{
		{
			name:    "Should return an empty result for an empty rule list",
			rules:   []Rule{},
			input:   EvaluationInput{Now: testNow},
			wantIDs: []int64{},
		},
		{
			name: "Should grant a subtotal rule when the cart meets the threshold",
			rules: []Rule{
				{ID: 7, Enabled: true, SubtotalOperator: OpGreaterEqual, SubtotalAmount: decPtr("50"), Gifts: []int64{101, 102}, GiftQuantity: 1},
			},
			input:   EvaluationInput{Cart: cartWithSubtotal("60.00"), Now: testNow},
			wantIDs: []int64{7},
		},
		{
			name: "Should reject a subtotal rule below the threshold",
			rules: []Rule{
				{ID: 7, Enabled: true, SubtotalOperator: OpGreaterEqual, SubtotalAmount: decPtr("50"), Gifts: []int64{101, 102}},
			},
			input:      EvaluationInput{Cart: cartWithSubtotal("40.00"), Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{7: ReasonSubtotal},
		},
		{
			name: "Should reject a subtotal one cent below the threshold",
			rules: []Rule{
				{ID: 7, Enabled: true, SubtotalOperator: OpGreaterEqual, SubtotalAmount: decPtr("50.00"), Gifts: []int64{101}},
			},
			input:      EvaluationInput{Cart: cartWithSubtotal("49.99"), Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{7: ReasonSubtotal},
		},
		{
			name: "Should grant a subtotal exactly at the threshold",
			rules: []Rule{
				{ID: 7, Enabled: true, SubtotalOperator: OpGreaterEqual, SubtotalAmount: decPtr("50.00"), Gifts: []int64{101}},
			},
			input:   EvaluationInput{Cart: cartWithSubtotal("50.00"), Now: testNow},
			wantIDs: []int64{7},
		},
		{
			name: "Should treat equal subtotal as exact decimal equality",
			rules: []Rule{
				{ID: 1, Enabled: true, SubtotalOperator: OpEqual, SubtotalAmount: decPtr("50"), Gifts: []int64{1}},
			},
			input:   EvaluationInput{Cart: cartWithSubtotal("50.00"), Now: testNow},
			wantIDs: []int64{1},
		},
		{
			name: "Should ignore a subtotal condition without an amount",
			rules: []Rule{
				{ID: 1, Enabled: true, SubtotalOperator: OpGreater, Gifts: []int64{1}},
			},
			input:   EvaluationInput{Cart: cartWithSubtotal("0"), Now: testNow},
			wantIDs: []int64{1},
		},
		{
			name: "Should reject user-only rules for guests",
			rules: []Rule{
				{ID: 3, Enabled: true, UserOnly: true, Gifts: []int64{1}},
			},
			input:      EvaluationInput{User: UserContext{ID: GuestUserID}, Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{3: ReasonUserOnly},
		},
		{
			name: "Should grant user-only rules to logged in shoppers",
			rules: []Rule{
				{ID: 3, Enabled: true, UserOnly: true, Gifts: []int64{1}},
			},
			input:   EvaluationInput{User: UserContext{ID: 42}, Now: testNow},
			wantIDs: []int64{3},
		},
		{
			name: "Should match a product dependency against the variation id",
			rules: []Rule{
				{ID: 9, Enabled: true, ProductDependency: []int64{555}, Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{Items: []LineItem{{Key: "a", ProductID: 550, VariationID: 555, Quantity: 1}}},
				Now:  testNow,
			},
			wantIDs: []int64{9},
		},
		{
			name: "Should reject a product dependency when no line matches",
			rules: []Rule{
				{ID: 9, Enabled: true, ProductDependency: []int64{555}, Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{Items: []LineItem{{Key: "a", ProductID: 10, Quantity: 1}}},
				Now:  testNow,
			},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{9: ReasonProductDependency},
		},
		{
			name: "Should match a category dependency through resolved categories",
			rules: []Rule{
				{ID: 4, Enabled: true, CategoryDependency: []int64{30}, Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{
					Items:      []LineItem{{Key: "a", ProductID: 10, Quantity: 1}},
					Categories: map[int64][]int64{10: {20, 30}},
				},
				Now: testNow,
			},
			wantIDs: []int64{4},
		},
		{
			name: "Should reject a category dependency when categories do not intersect",
			rules: []Rule{
				{ID: 4, Enabled: true, CategoryDependency: []int64{30}, Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{
					Items:      []LineItem{{Key: "a", ProductID: 10, Quantity: 1}},
					Categories: map[int64][]int64{10: {20}},
				},
				Now: testNow,
			},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{4: ReasonCategoryDependency},
		},
		{
			name: "Should reject a user dependency for guests",
			rules: []Rule{
				{ID: 5, Enabled: true, UserDependency: []int64{42}, Gifts: []int64{1}},
			},
			input:      EvaluationInput{Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{5: ReasonUserDependency},
		},
		{
			name: "Should grant a user dependency to a listed user",
			rules: []Rule{
				{ID: 5, Enabled: true, UserDependency: []int64{42}, Gifts: []int64{1}},
			},
			input:   EvaluationInput{User: UserContext{ID: 42}, Now: testNow},
			wantIDs: []int64{5},
		},
		{
			name: "Should reject rules without gifts",
			rules: []Rule{
				{ID: 6, Enabled: true},
			},
			input:      EvaluationInput{Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{6: ReasonNoGifts},
		},
		{
			name: "Should reject disabled rules",
			rules: []Rule{
				{ID: 6, Enabled: false, Gifts: []int64{1}},
			},
			input:      EvaluationInput{Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{6: ReasonInactive},
		},
		{
			name: "Should reject rules when a coupon is applied and coupons disable the rule",
			rules: []Rule{
				{ID: 8, Enabled: true, DisableWithCoupon: true, Gifts: []int64{1}},
				{ID: 9, Enabled: true, Gifts: []int64{2}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{AppliedCoupons: []string{"SPRING"}},
				Now:  testNow,
			},
			wantIDs:    []int64{9},
			wantReason: map[int64]Reason{8: ReasonCouponPresent, 9: ReasonEligible},
		},
		{
			name: "Should count gift lines in the quantity condition",
			rules: []Rule{
				{ID: 2, Enabled: true, QtyOperator: OpGreaterEqual, QtyAmount: intPtr(3), Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Cart: CartSnapshot{Items: []LineItem{
					{Key: "a", ProductID: 10, Quantity: 2},
					{Key: "g", ProductID: 1, Quantity: 1, Gift: &GiftTag{RuleID: 99, InstanceID: "x"}},
				}},
				Now: testNow,
			},
			wantIDs: []int64{2},
		},
		{
			name: "Should reject a rule whose total usage reached the limit",
			rules: []Rule{
				{ID: 11, Enabled: true, LimitPerRule: intPtr(10), Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Usage: UsageSnapshot{Totals: map[int64]int{11: 10}},
				Now:   testNow,
			},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{11: ReasonLimitPerRule},
		},
		{
			name: "Should reject a rule whose per-user usage reached the limit",
			rules: []Rule{
				{ID: 12, Enabled: true, LimitPerUser: intPtr(1), Gifts: []int64{1}},
			},
			input: EvaluationInput{
				User:  UserContext{ID: 42},
				Usage: UsageSnapshot{UserID: 42, PerUser: map[int64]int{12: 1}},
				Now:   testNow,
			},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{12: ReasonLimitPerUser},
		},
		{
			name: "Should skip the per-user limit for guests",
			rules: []Rule{
				{ID: 12, Enabled: true, LimitPerUser: intPtr(1), Gifts: []int64{1}},
			},
			input: EvaluationInput{
				Usage: UsageSnapshot{UserID: GuestUserID, PerUser: map[int64]int{12: 5}},
				Now:   testNow,
			},
			wantIDs: []int64{12},
		},
		{
			name: "Should include both date bounds",
			rules: []Rule{
				{ID: 13, Enabled: true, DateFrom: timePtr(testNow), DateTo: timePtr(testNow), Gifts: []int64{1}},
			},
			input:   EvaluationInput{Now: testNow},
			wantIDs: []int64{13},
		},
		{
			name: "Should reject rules outside the date window",
			rules: []Rule{
				{ID: 14, Enabled: true, DateFrom: timePtr(testNow.Add(time.Hour)), Gifts: []int64{1}},
				{ID: 15, Enabled: true, DateTo: timePtr(testNow.Add(-time.Second)), Gifts: []int64{1}},
			},
			input:      EvaluationInput{Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{14: ReasonDateWindow, 15: ReasonDateWindow},
		},
		{
			name: "Should grant a rule in the last second of its final day",
			rules: []Rule{
				{ID: 19, Enabled: true, DateTo: timePtr(time.Date(2026, 3, 15, 23, 59, 59, 999999000, time.UTC)), Gifts: []int64{1}},
			},
			input:   EvaluationInput{Now: time.Date(2026, 3, 15, 23, 59, 59, 500000000, time.UTC)},
			wantIDs: []int64{19},
		},
		{
			name: "Should reject a rule starting one second from now",
			rules: []Rule{
				{ID: 18, Enabled: true, DateFrom: timePtr(testNow.Add(time.Second)), Gifts: []int64{1}},
			},
			input:      EvaluationInput{Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{18: ReasonDateWindow},
		},
		{
			name: "Should grant a rule one second after it started",
			rules: []Rule{
				{ID: 18, Enabled: true, DateFrom: timePtr(testNow.Add(time.Second)), Gifts: []int64{1}},
			},
			input:   EvaluationInput{Now: testNow.Add(time.Second)},
			wantIDs: []int64{18},
		},
		{
			name: "Should treat the epoch as an unset date bound",
			rules: []Rule{
				{ID: 16, Enabled: true, DateFrom: timePtr(time.Unix(0, 0)), DateTo: timePtr(time.Unix(0, 0)), Gifts: []int64{1}},
			},
			input:   EvaluationInput{Now: testNow},
			wantIDs: []int64{16},
		},
		{
			name: "Should stop at the first failing gate",
			rules: []Rule{
				{ID: 17, Enabled: true, UserOnly: true, SubtotalOperator: OpGreater, SubtotalAmount: decPtr("1000")},
			},
			input:      EvaluationInput{Cart: cartWithSubtotal("1"), Now: testNow},
			wantIDs:    []int64{},
			wantReason: map[int64]Reason{17: ReasonUserOnly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			observer := newRecordingObserver()
			engine := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithObserver(observer))

			got := engine.Evaluate(tt.rules, tt.input)

			assert.Equal(t, tt.wantIDs, got.RuleIDs())
			for id, reason := range tt.wantReason {
				assert.Equal(t, reason, observer.reasons[id], "rule %d", id)
			}
		})
	}
}

func TestEngine_Evaluate_OfferPayload(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	rules := []Rule{
		{ID: 7, Enabled: true, Gifts: []int64{102, 101, 103}, GiftQuantity: 0},
		{ID: 8, Enabled: true, Gifts: []int64{5}, GiftQuantity: 3},
	}

	got := engine.Evaluate(rules, EvaluationInput{Now: testNow})

	require.Len(t, got, 2)
	assert.Equal(t, []int64{102, 101, 103}, got[7].Gifts, "gift order must be preserved")
	assert.Equal(t, 1, got[7].Allowed, "allowed is at least one")
	assert.Equal(t, 3, got[8].Allowed)
	assert.Equal(t, int64(7), got[7].Rule.ID)
}

func TestEngine_Evaluate_SameGiftAcrossRules(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	rules := []Rule{
		{ID: 1, Enabled: true, Gifts: []int64{500}},
		{ID: 2, Enabled: true, Gifts: []int64{500, 600}},
	}

	got := engine.Evaluate(rules, EvaluationInput{Now: testNow})

	offerA, okA := got.Lookup(1, 500)
	offerB, okB := got.Lookup(2, 500)
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Equal(t, 1, offerA.Allowed)
	assert.Equal(t, 1, offerB.Allowed)
}

func TestEngine_Evaluate_IsDeterministic(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	rules := []Rule{
		{ID: 3, Enabled: true, Gifts: []int64{3, 1, 2}, GiftQuantity: 2},
		{ID: 1, Enabled: true, SubtotalOperator: OpLess, SubtotalAmount: decPtr("100"), Gifts: []int64{9}},
		{ID: 2, Enabled: true, ProductDependency: []int64{77}, Gifts: []int64{8}},
	}
	input := EvaluationInput{
		Cart: CartSnapshot{Items: []LineItem{{Key: "a", ProductID: 77, Quantity: 1}}, Subtotal: decimal.RequireFromString("20")},
		Now:  testNow,
	}

	first, err := json.Marshal(engine.Evaluate(rules, input))
	require.NoError(t, err)

	for range 20 {
		again, err := json.Marshal(engine.Evaluate(rules, input))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestEngine_Evaluate_DoesNotMutateRules(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	rules := []Rule{{ID: 1, Enabled: true, ProductDependency: []int64{5}, Gifts: []int64{2, 1}}}

	_ = engine.Evaluate(rules, EvaluationInput{Now: testNow})

	assert.Nil(t, rules[0].compiled, "evaluation must not store compiled sets on the caller's rules")
	assert.Equal(t, []int64{2, 1}, rules[0].Gifts)
}

func TestEngine_Evaluate_LogsInvalidRuleIDs(t *testing.T) {
	t.Parallel()

	var logBuffer bytes.Buffer
	engine := New(slog.New(slog.NewTextHandler(&logBuffer, nil)))

	got := engine.Evaluate([]Rule{{ID: 0, Enabled: true, Gifts: []int64{1}}}, EvaluationInput{Now: testNow})

	assert.Empty(t, got)
	assert.Contains(t, logBuffer.String(), "skipping rule with invalid id")
}

func TestEngine_Evaluate_UsesInjectedGates(t *testing.T) {
	t.Parallel()

	engine := New(nil, WithGates(giftsGate{}))

	got := engine.Evaluate([]Rule{{ID: 1, Enabled: false, Gifts: []int64{1}}}, EvaluationInput{Now: testNow})

	assert.Equal(t, []int64{1}, got.RuleIDs(), "only the injected gates apply")
}

func TestNextBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules []Rule
		want  time.Time
	}{
		{
			name:  "Should return zero without dated rules",
			rules: []Rule{{ID: 1}, {ID: 2, DateFrom: timePtr(time.Unix(0, 0))}},
		},
		{
			name:  "Should ignore bounds already passed",
			rules: []Rule{{ID: 1, DateFrom: timePtr(testNow.Add(-time.Hour)), DateTo: timePtr(testNow.Add(-time.Minute))}},
		},
		{
			name:  "Should close one tick after an inclusive end",
			rules: []Rule{{ID: 1, DateTo: timePtr(testNow.Add(time.Minute))}},
			want:  testNow.Add(time.Minute + time.Nanosecond),
		},
		{
			name:  "Should close one tick after an end equal to now",
			rules: []Rule{{ID: 1, DateTo: timePtr(testNow)}},
			want:  testNow.Add(time.Nanosecond),
		},
		{
			name: "Should pick the earliest boundary across rules",
			rules: []Rule{
				{ID: 1, DateTo: timePtr(testNow.Add(2 * time.Hour))},
				{ID: 2, DateFrom: timePtr(testNow.Add(30 * time.Minute))},
				{ID: 3, DateFrom: timePtr(testNow.Add(-time.Hour)), DateTo: timePtr(testNow.Add(time.Hour))},
			},
			want: testNow.Add(30 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.want.Equal(NextBoundary(tt.rules, testNow)), "got %s", NextBoundary(tt.rules, testNow))
		})
	}
}
