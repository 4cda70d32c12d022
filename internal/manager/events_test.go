package manager

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogPublisherWritesFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf).Level(zerolog.DebugLevel))
	p.Publish(Event{Name: EventEvict, Model: "whisper", Fields: map[string]any{"for_model": "mdm"}})
	out := buf.String()
	for _, want := range []string{`"event":"evict"`, `"model":"whisper"`, `"for_model":"mdm"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %s: %s", want, out)
		}
	}
}

func TestPublisherOrNop(t *testing.T) {
	publisherOrNop(nil).Publish(Event{Name: EventLoadStart})
	mp := NewMemoryPublisher()
	publisherOrNop(mp).Publish(Event{Name: EventLoadStart, Model: "a"})
	if len(mp.Events()) != 1 || mp.Names("b") != nil {
		t.Fatalf("events: %v", mp.Events())
	}
}
