package terminal

import "time"

// Limits holds the operational ceilings of the terminal host. Zero fields are
// replaced by the matching DefaultLimits value.
type Limits struct {
	// MaxBufferBytes and MaxBufferLines bound each session's replay history.
	MaxBufferBytes int `yaml:"maxBufferBytes" split_words:"true"`
	MaxBufferLines int `yaml:"maxBufferLines" split_words:"true"`

	// MaxServices caps the number of concurrently registered services.
	MaxServices int `yaml:"maxServices" split_words:"true"`

	// IdleTimeout evicts non-persistent services; PersistentIdleTimeout evicts
	// persistent services that no longer hold any terminal.
	IdleTimeout           time.Duration `yaml:"idleTimeout" split_words:"true"`
	PersistentIdleTimeout time.Duration `yaml:"persistentIdleTimeout" split_words:"true"`

	// ChannelCapacity sizes both the input and output channel of a session.
	ChannelCapacity int `yaml:"channelCapacity" split_words:"true"`

	// CompressThreshold is the payload size above which data responses are
	// zstd-compressed.
	CompressThreshold int `yaml:"compressThreshold" split_words:"true"`

	PollInterval  time.Duration `yaml:"pollInterval" split_words:"true"`
	ReapInterval  time.Duration `yaml:"reapInterval" split_words:"true"`
	SweepInterval time.Duration `yaml:"sweepInterval" split_words:"true"`
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferBytes:        1 << 20,
		MaxBufferLines:        10000,
		MaxServices:           100,
		IdleTimeout:           time.Hour,
		PersistentIdleTimeout: 2 * time.Hour,
		ChannelCapacity:       100,
		CompressThreshold:     512,
		PollInterval:          30 * time.Millisecond,
		ReapInterval:          100 * time.Millisecond,
		SweepInterval:         5 * time.Minute,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxBufferBytes <= 0 {
		l.MaxBufferBytes = d.MaxBufferBytes
	}
	if l.MaxBufferLines <= 0 {
		l.MaxBufferLines = d.MaxBufferLines
	}
	if l.MaxServices <= 0 {
		l.MaxServices = d.MaxServices
	}
	if l.IdleTimeout <= 0 {
		l.IdleTimeout = d.IdleTimeout
	}
	if l.PersistentIdleTimeout <= 0 {
		l.PersistentIdleTimeout = d.PersistentIdleTimeout
	}
	if l.ChannelCapacity <= 0 {
		l.ChannelCapacity = d.ChannelCapacity
	}
	if l.CompressThreshold <= 0 {
		l.CompressThreshold = d.CompressThreshold
	}
	if l.PollInterval <= 0 {
		l.PollInterval = d.PollInterval
	}
	if l.ReapInterval <= 0 {
		l.ReapInterval = d.ReapInterval
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = d.SweepInterval
	}
	return l
}
