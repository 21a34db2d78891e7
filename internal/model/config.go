package model

// ChatConfig are the generation parameters passed to the completion engine.
type ChatConfig struct {
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"topP"`
	TopK              float64 `json:"topK"`
	SystemInstruction string  `json:"systemInstruction"`
	ThinkingBudget    int     `json:"thinkingBudget"`
}

// DefaultModel is used when a config leaves Model empty.
const DefaultModel = "gemini-3-flash-preview"

// DefaultChatConfig returns the configuration a fresh session starts with.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Model:             DefaultModel,
		Temperature:       0.8,
		TopP:              0.9,
		TopK:              40,
		SystemInstruction: "You are a professional AI assistant. Respond with clear, structured information. Use bolding (like **this**) for key points and backticks (like `this`) for code or commands. Avoid excessive technical jargon unless asked.",
		ThinkingBudget:    0,
	}
}

// Models lists the engine models a session may select.
var Models = []struct {
	ID          string
	Name        string
	Description string
}{
	{"gemini-3-flash-preview", "Gemini 3 Flash (Free Tier)", "Fastest and most generous free tier. Great for daily tasks."},
	{"gemini-3-pro-preview", "Gemini 3 Pro (Free Tier)", "Advanced reasoning and high-quality responses."},
	{"gemini-2.5-flash-lite-latest", "Gemini 2.5 Lite", "Ultra-low latency for simple queries."},
}
