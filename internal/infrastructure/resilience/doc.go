/*
Package resilience provides circuit breakers for outbound calls.

The prefetcher keeps a Group with one breaker per cache host, so a cache
that keeps failing is skipped for a while instead of being hammered with
retries.

# Usage

	breakers := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breakers.Execute(host, func() error {
		return fetch(ctx, url)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// skipped
	}

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
