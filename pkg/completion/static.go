package completion

import (
	"context"
	"fmt"

	"github.com/go-go-golems/convrelay/pkg/transcript"
)

// StaticGateway answers without a backend. Used for local development with fake_llm.
type StaticGateway struct {
	Reply string
}

func NewStaticGateway() *StaticGateway {
	return &StaticGateway{}
}

func (g *StaticGateway) Complete(ctx context.Context, msgs []transcript.Message) (transcript.Message, error) {
	if err := ctx.Err(); err != nil {
		return transcript.Message{}, AsGenerationError(err)
	}
	if err := ValidateRequest(msgs); err != nil {
		return transcript.Message{}, err
	}
	if g.Reply != "" {
		return transcript.Assistant(g.Reply), nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != transcript.RoleUser {
		return transcript.Assistant("How can I help you today?"), nil
	}
	return transcript.Assistant(fmt.Sprintf("I heard you say %q. Could you tell me a bit more about what you're looking for?", last.Content)), nil
}
