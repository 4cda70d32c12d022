package manager

import "github.com/rs/zerolog"

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct{ log zerolog.Logger }

func NewLogPublisher(log zerolog.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Debug().Str("event", e.Name).Str("model", e.Model)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}
