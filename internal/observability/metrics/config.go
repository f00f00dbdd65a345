package metrics

// Config identifies the service for metric labels.
type Config struct {
	ServiceName string
	Environment string
}
