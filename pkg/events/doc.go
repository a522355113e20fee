/*
Package events provides the in-process event bus of replcheck.

Checks, failover transitions and cluster control calls are published as
Events. Subscribers are plain functions called synchronously in publish
order, which keeps metrics and logs consistent with the sequential
execution of checks:

	bus := events.NewBus()
	unsubscribe := bus.Subscribe(func(e *events.Event) {
		if e.Type == events.EventCheckFinished {
			fmt.Println(e.Outcome.Check, e.Outcome.Status)
		}
	})
	defer unsubscribe()

Publishing to a nil *Bus is a no-op, so components accept an optional bus.
*/
package events
