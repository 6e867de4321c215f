package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func TestCheckAllReportsWorstStatus(t *testing.T) {
	a := NewAggregator(0)
	a.Register(NewBasicChecker("db", "database reachable", ok))

	report := a.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Checks, 1)

	optional := NewBasicChecker("mail", "mail relay reachable", func(context.Context) error {
		return errors.New("relay down")
	})
	optional.Optional = true
	a.Register(optional)
	report = a.CheckAll(context.Background())
	assert.Equal(t, StatusWarning, report.Status)
	assert.Equal(t, "relay down", report.Checks[1].Error)

	a.Register(NewBasicChecker("disk", "disk writable", func(context.Context) error {
		panic("no disk")
	}))
	report = a.CheckAll(context.Background())
	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, "panic: no disk", report.Checks[2].Error)
}

func TestRegisterReplacesByName(t *testing.T) {
	a := NewAggregator(0)
	a.Register(NewBasicChecker("db", "", func(context.Context) error { return errors.New("down") }))
	a.Register(NewBasicChecker("cache", "", ok))
	a.Register(NewBasicChecker("db", "", ok))

	assert.Equal(t, []string{"db", "cache"}, a.Names())
	assert.Equal(t, StatusHealthy, a.CheckAll(context.Background()).Status)
}

func TestCheckOneAndUnregister(t *testing.T) {
	a := NewAggregator(0)
	a.Register(NewBasicChecker("db", "", ok))

	r, err := a.CheckOne(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, r.Status)

	require.NoError(t, a.Unregister("db"))
	_, err = a.CheckOne(context.Background(), "db")
	assert.ErrorIs(t, err, ErrHealthCheckNotFound)
	assert.ErrorIs(t, a.Unregister("db"), ErrHealthCheckNotFound)
}

func TestCheckTimeout(t *testing.T) {
	a := NewAggregator(10 * time.Millisecond)
	a.Register(NewBasicChecker("slow", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	r, err := a.CheckOne(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, r.Status)
	assert.Contains(t, r.Error, "deadline exceeded")
}
