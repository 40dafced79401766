// Package llm provides a unified client for multiple LLM providers behind a
// single canonical request/response vocabulary.
//
// Conversations are expressed as Messages holding ContentBlocks (text,
// image, tool_use, tool_result). A Client routes Requests to registered
// ProviderAdapters, which translate to and from each provider's wire
// protocol:
//
//   - AnthropicAdapter speaks the native Messages API via the official SDK.
//   - OpenAIAdapter speaks the chat-completions protocol and covers any
//     compatible endpoint (OpenAI, Groq, DeepSeek, Ollama) via BaseURL.
//   - GollmAdapter is the catch-all for everything else.
//
// Streaming calls return a ResponseStream that yields delta Responses
// (IsDelta set, a single text fragment each) followed by exactly one final
// aggregated Response carrying the full block list, stop reason, and usage.
//
// Failures are reported through a typed error hierarchy; IsTransient
// classifies any error as retryable or not, and unknown errors are treated
// as transient.
//
// API keys are never read from the environment here. Adapters resolve
// credentials through an injected SecretLookup at construction time.
package llm
