// Package prompts contains the prompt templates sent to the reasoner.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt interpolation, are compiled into the binary, and can be
// validated by tests. User-facing knobs (persona name, location, cycle budget)
// live in config.yaml and arrive here as plain values.
//
// Convention: each prompt gets its own file with an exported function that
// accepts the dynamic parts and returns the fully interpolated prompt string.
// Rendering is pure: the same input always yields the same text.
package prompts
