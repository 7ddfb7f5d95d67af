package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/usecase"
)

func TestDispatchPolicy_Concurrency(t *testing.T) {
	p := usecase.DefaultDispatchPolicy()

	gt.Number(t, p.Concurrency(0)).Equal(5)
	gt.Number(t, p.Concurrency(-1)).Equal(5)
	gt.Number(t, p.Concurrency(3)).Equal(3)
	gt.Number(t, p.Concurrency(500)).Equal(50)
}

func TestGate(t *testing.T) {
	t.Run("open gate does not wait", func(t *testing.T) {
		var g usecase.Gate
		start := time.Now()
		gt.NoError(t, g.Wait(context.Background()))
		gt.Bool(t, time.Since(start) < 10*time.Millisecond).True()
	})

	t.Run("pause holds every waiter", func(t *testing.T) {
		var g usecase.Gate
		g.Pause(30 * time.Millisecond)
		g.Pause(time.Millisecond) // a shorter pause never shortens the current one

		start := time.Now()
		gt.NoError(t, g.Wait(context.Background()))
		gt.Bool(t, time.Since(start) >= 25*time.Millisecond).True()
	})

	t.Run("cancelled wait returns", func(t *testing.T) {
		var g usecase.Gate
		g.Pause(time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		gt.Value(t, g.Wait(ctx)).NotNil()
	})
}
