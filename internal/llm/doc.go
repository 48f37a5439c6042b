// Package llm provides a minimal completion interface over several model providers:
// any OpenAI-compatible chat endpoint (including local llama.cpp or vLLM servers),
// Anthropic's messages API and Google's Gemini API.
package llm
