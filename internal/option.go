package internal

// Option adjusts how the chartd daemon is assembled before Run starts
// its component goroutines.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies the daemon configuration. Run refuses to start
// without one.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
