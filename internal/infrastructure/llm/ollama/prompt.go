package ollama

import "github.com/kirillkom/ocr-intake/internal/infrastructure/llm"

func buildStructuringPrompt(text string) string {
	return llm.SystemInstruction + `

Document:
` + llm.Snippet(text)
}
