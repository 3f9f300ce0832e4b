package redisstream

// Settings holds Redis Streams transport configuration for the call event bus.
type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "convrelay",
		Consumer: "convrelay-1",
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Addr == "" {
		s.Addr = d.Addr
	}
	if s.Group == "" {
		s.Group = d.Group
	}
	if s.Consumer == "" {
		s.Consumer = d.Consumer
	}
	return s
}
