package voice_test

import (
	"testing"

	"github.com/ClareAI/astra-phone-agent/internal/core/voice"
	"github.com/ClareAI/astra-phone-agent/internal/core/voice/voicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderKeepsVerbOrder(t *testing.T) {
	doc := voice.NewDocument().
		Say("Hello").
		Gather(voice.GatherOptions{Input: "speech", TimeoutSeconds: 5, Action: "/process_speech", Method: "POST"}).
		Say("Sorry, I didn't hear that.").
		Redirect("/handle_call")

	assert.Equal(t, []string{"Say", "Gather", "Say", "Redirect"}, doc.VerbNames())

	xml, err := doc.Render()
	require.NoError(t, err)

	verbs := voicetest.MustParse(xml)
	require.Equal(t, []string{"Say", "Gather", "Say", "Redirect"}, voicetest.Names(verbs))
	assert.Equal(t, "Hello", verbs[0].Text)
	assert.Equal(t, "speech", verbs[1].Attrs["input"])
	assert.Equal(t, "5", verbs[1].Attrs["timeout"])
	assert.Equal(t, "/process_speech", verbs[1].Attrs["action"])
	assert.Equal(t, "/handle_call", verbs[3].Text)
}

func TestRenderEscapesSpokenText(t *testing.T) {
	xml, err := voice.NewDocument().Say(`Tom & Jerry <3 "quotes"`).Render()
	require.NoError(t, err)

	verbs := voicetest.MustParse(xml)
	require.Len(t, verbs, 1)
	assert.Equal(t, `Tom & Jerry <3 "quotes"`, verbs[0].Text)
}

func TestHangupAndFallback(t *testing.T) {
	xml, err := voice.NewDocument().Say("Goodbye").Hangup().Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"Say", "Hangup"}, voicetest.Names(voicetest.MustParse(xml)))

	fallback := voicetest.MustParse(voice.FallbackXML)
	assert.Equal(t, []string{"Say", "Hangup"}, voicetest.Names(fallback))
}

func TestVerbNamesIsACopy(t *testing.T) {
	doc := voice.NewDocument().Say("a")
	names := doc.VerbNames()
	names[0] = "changed"
	assert.Equal(t, []string{"Say"}, doc.VerbNames())
}
