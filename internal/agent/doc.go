// Package agent contains yagent's conversation loop.
//
// A Loop owns one conversation. Each Run sends the conversation to the
// provider, executes the tool calls the model asks for through the
// dispatcher, feeds the results back and repeats until the model answers
// without calling tools, a fatal fault occurs, the turn cap is reached or
// the caller cancels.
//
// The package also resolves the configured model into a provider.
package agent
