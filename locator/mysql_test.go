package locator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *MySQLStore {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Locator{})
	return NewMySQLStore(db, logger.NewTestLogger())
}

func TestMySQLStore_Record(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Record(ctx, "login.submit", StrategyCSS, "#submit", SourceManual)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := store.Record(ctx, "login.submit", StrategyXPath, "//button[@type='submit']", SourceHealed)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	history, err := store.History(ctx, "login.submit")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Active)
	assert.False(t, history[1].Active, "only one locator per element is active")

	t.Run("invalid locator", func(t *testing.T) {
		_, err := store.Record(ctx, "", StrategyCSS, "#x", SourceManual)
		assert.ErrorIs(t, err, ErrMissingElementID)
		_, err = store.Record(ctx, "x", "regex", "#x", SourceManual)
		assert.ErrorIs(t, err, ErrInvalidStrategy)
		_, err = store.Record(ctx, "x", StrategyCSS, " ", SourceManual)
		assert.ErrorIs(t, err, ErrMissingValue)
	})
}

func TestMySQLStore_ResolveLocator(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Record(ctx, "cart.checkout", StrategyCSS, ".checkout", SourceManual)
	require.NoError(t, err)
	_, err = store.Record(ctx, "cart.checkout", StrategyText, "Checkout", SourceHealed)
	require.NoError(t, err)

	active, err := store.ResolveLocator(ctx, "cart.checkout", "")
	require.NoError(t, err)
	assert.Equal(t, StrategyText, active.Strategy)

	css, err := store.ResolveLocator(ctx, "cart.checkout", StrategyCSS)
	require.NoError(t, err)
	assert.Equal(t, ".checkout", css.Value)
	assert.False(t, css.Active)

	_, err = store.ResolveLocator(ctx, "cart.checkout", StrategyXPath)
	assert.ErrorIs(t, err, ErrLocatorNotFound)
	_, err = store.ResolveLocator(ctx, "unknown", "")
	assert.ErrorIs(t, err, ErrLocatorNotFound)
}

func TestMySQLStore_RecordSerializedPerElement(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Record(ctx, "menu", StrategyCSS, fmt.Sprintf("#menu-%d", i), SourceHealed)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx, "menu")
	require.NoError(t, err)
	require.Len(t, history, 10)
	active := 0
	for i, l := range history {
		assert.Equal(t, 10-i, l.Version)
		if l.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in       string
		strategy Strategy
		value    string
	}{
		{in: "#submit", strategy: StrategyCSS, value: "#submit"},
		{in: "text=Sign in", strategy: StrategyText, value: "Sign in"},
		{in: "xpath=//a[@href='/x']", strategy: StrategyXPath, value: "//a[@href='/x']"},
		{in: "input[name=email]", strategy: StrategyCSS, value: "input[name=email]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, v := ParseSelector(tt.in)
			assert.Equal(t, tt.strategy, s)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.in, (&Locator{Strategy: s, Value: v}).Selector())
		})
	}
}
