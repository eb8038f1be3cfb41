package task

// BusyIndicator is told when the dispatcher starts and stops having work in
// flight. On the device this drives the busy LED.
type BusyIndicator interface {
	SetBusy(busy bool)
}

// BusyIndicatorFunc adapts an ordinary function to BusyIndicator.
type BusyIndicatorFunc func(busy bool)

// SetBusy calls f(busy).
func (f BusyIndicatorFunc) SetBusy(busy bool) {
	f(busy)
}
