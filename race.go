package duplexrpc

import "context"

// race2 runs a and b concurrently and returns the result of whichever returns
// first. The context given to both is cancelled as soon as there is a result,
// and race2 does not return until the other one has returned as well, so
// neither outlives the race. Both must return promptly once their context is
// done. Whatever the loser did before noticing is not undone.
func race2(ctx context.Context, a, b func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 2)
	go func() {
		results <- a(ctx)
	}()
	go func() {
		results <- b(ctx)
	}()

	err := <-results
	cancel()
	<-results
	return err
}
