package prompts

import "strings"

// Spoken prompts
const (
	Greeting        = "Hello, I am an AI-powered assistant. How can I help you today?"
	NoInputFallback = "Sorry, I didn't hear that. Can you repeat?"
	Goodbye         = "Goodbye! Ending the call now."
	Apology         = "Sorry, I'm having trouble answering right now. Could you say that again?"
)

// SystemInstruction is the system role message sent with every completion request
const SystemInstruction = "You are an AI assistant."

// goodbyePhrases end the conversation when heard anywhere in a transcript
var goodbyePhrases = []string{"goodbye", "end call"}

// IsGoodbye reports whether the transcript asks to end the call. Matching is case-insensitive.
func IsGoodbye(transcript string) bool {
	lower := strings.ToLower(transcript)
	for _, phrase := range goodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
