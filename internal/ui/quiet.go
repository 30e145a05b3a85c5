package ui

// quietPresenter consumes events but produces no output.
type quietPresenter struct{}

func (p *quietPresenter) Run(events <-chan Event) error {
	for range events {
		// Counters live on the collector; presenters only read, never write.
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
