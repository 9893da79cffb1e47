package internal

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/jhump/duplexrpc"
	"github.com/jhump/duplexrpc/examples/calculator"
)

// SendCalls uses four goroutines to make calculator calls over the given
// client for the given duration. It returns the number of calls made.
func SendCalls(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], duration time.Duration) (int64, error) {
	var done atomic.Bool
	var count atomic.Int64
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, ctx := errgroup.WithContext(ctx)
	type action func(context.Context, *duplexrpc.Client[calculator.Request, calculator.Response], string) error
	for i, fn := range []action{doArithmetic, doTrigonometry, doLogarithms, doSaveAndLoad} {
		variable := fmt.Sprintf("var%d", i)
		grp.Go(func() error {
			for {
				if done.Load() {
					return nil
				}
				if err := fn(ctx, client, variable); err != nil {
					return err
				}
				count.Inc()
			}
		})
	}
	time.AfterFunc(duration, func() { done.Store(true) })
	time.AfterFunc(duration+time.Second, cancel)
	err := grp.Wait()
	return count.Load(), err
}

func calculate(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], variable string, fn func(*calculator.Client) (float64, error), want float64) error {
	calc, err := calculator.NewClient(ctx, client, variable)
	if err != nil {
		return err
	}
	defer func() {
		_ = calc.Close()
	}()
	got, err := fn(calc)
	if err != nil {
		return err
	}
	if math.Abs(got-want) > 1e-9 {
		return fmt.Errorf("%s: got %v, want %v", variable, got, want)
	}
	return nil
}

func doArithmetic(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], variable string) error {
	return calculate(ctx, client, variable, func(calc *calculator.Client) (float64, error) {
		for _, step := range []func(context.Context, float64) (float64, error){calc.Set, calc.Add, calc.Multiply, calc.Divide} {
			if _, err := step(ctx, 4); err != nil {
				return 0, err
			}
		}
		return calc.Exp(ctx, 2)
	}, 64) // ((4+4)*4/4)^2
}

func doTrigonometry(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], variable string) error {
	return calculate(ctx, client, variable, func(calc *calculator.Client) (float64, error) {
		if _, err := calc.Set(ctx, math.Pi); err != nil {
			return 0, err
		}
		if _, err := calc.Sin(ctx); err != nil {
			return 0, err
		}
		return calc.Cos(ctx)
	}, 1)
}

func doLogarithms(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], variable string) error {
	return calculate(ctx, client, variable, func(calc *calculator.Client) (float64, error) {
		if _, err := calc.Set(ctx, 1000); err != nil {
			return 0, err
		}
		if _, err := calc.Log(ctx, 10); err != nil {
			return 0, err
		}
		if _, err := calc.Set(ctx, math.E); err != nil {
			return 0, err
		}
		return calc.Ln(ctx)
	}, 1)
}

func doSaveAndLoad(ctx context.Context, client *duplexrpc.Client[calculator.Request, calculator.Response], variable string) error {
	err := calculate(ctx, client, variable, func(calc *calculator.Client) (float64, error) {
		if _, err := calc.Set(ctx, 42); err != nil {
			return 0, err
		}
		return calc.Save(ctx)
	}, 42)
	if err != nil {
		return err
	}
	return calculate(ctx, client, variable+"-copy", func(calc *calculator.Client) (float64, error) {
		return calc.Load(ctx, variable)
	}, 42)
}
