package gpuchan

// Option configures a Manager during creation.
//
// Example:
//
//	// Share one fatal error latch between the managers of two devices.
//	errs := gpuchan.NewErrorCell()
//	m0, err := gpuchan.NewManager(p0, gpuchan.Config{}, gpuchan.WithErrorCell(errs))
//	m1, err := gpuchan.NewManager(p1, gpuchan.Config{}, gpuchan.WithErrorCell(errs))
type Option func(*managerOptions)

// managerOptions holds the injected collaborators of a Manager.
type managerOptions struct {
	errs       *ErrorCell
	newBackoff func() Backoff
}

// WithErrorCell sets the fatal error latch polled by every wait loop.
// By default each Manager gets its own.
func WithErrorCell(c *ErrorCell) Option {
	return func(o *managerOptions) {
		o.errs = c
	}
}

// WithBackoff sets the factory of the pause taken between polling
// iterations. newBackoff is called once per wait loop. By default a
// SpinLoop warning after Config.SpinWarnTimeout is used.
func WithBackoff(newBackoff func() Backoff) Option {
	return func(o *managerOptions) {
		o.newBackoff = newBackoff
	}
}
