// Package tokenizer converts between text and the token ids the model
// consumes.
package tokenizer

// Tokenizer is the interface tokenizer implementations satisfy.
type Tokenizer interface {
	// Encode converts text to token ids.
	Encode(text string) ([]int32, error)

	// Decode converts token ids back to text.
	Decode(tokens []int32) (string, error)

	// VocabSize returns the total vocabulary size.
	VocabSize() int

	// EosToken returns the end-of-sequence token id, or -1 when the
	// vocabulary has none.
	EosToken() int32
}
