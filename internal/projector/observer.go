package projector

// Observer receives session events for metrics and telemetry.
//
// Methods are called on the session's event loop and must not block.
type Observer interface {
	ConnectionChanged(state ConnectionState)
	ConnectFailed(err error)
	Reconnecting(reason error)
	PollSent()
	PowerChanged(state PowerState)
	CommandCompleted(result CommandResult)
}

// Observers fans events out to several observers in order.
type Observers []Observer

// ConnectionChanged implements Observer.
func (o Observers) ConnectionChanged(state ConnectionState) {
	for _, ob := range o {
		ob.ConnectionChanged(state)
	}
}

// ConnectFailed implements Observer.
func (o Observers) ConnectFailed(err error) {
	for _, ob := range o {
		ob.ConnectFailed(err)
	}
}

// Reconnecting implements Observer.
func (o Observers) Reconnecting(reason error) {
	for _, ob := range o {
		ob.Reconnecting(reason)
	}
}

// PollSent implements Observer.
func (o Observers) PollSent() {
	for _, ob := range o {
		ob.PollSent()
	}
}

// PowerChanged implements Observer.
func (o Observers) PowerChanged(state PowerState) {
	for _, ob := range o {
		ob.PowerChanged(state)
	}
}

// CommandCompleted implements Observer.
func (o Observers) CommandCompleted(result CommandResult) {
	for _, ob := range o {
		ob.CommandCompleted(result)
	}
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ConnectionChanged(ConnectionState) {}
func (NopObserver) ConnectFailed(error)               {}
func (NopObserver) Reconnecting(error)                {}
func (NopObserver) PollSent()                         {}
func (NopObserver) PowerChanged(PowerState)           {}
func (NopObserver) CommandCompleted(CommandResult)    {}

var (
	_ Observer = Observers(nil)
	_ Observer = NopObserver{}
)
