// Package embeddings turns text into fixed-dimension vectors.
//
// A Provider produces raw vectors: FastEmbed runs an ONNX model locally,
// TEI calls a text-embeddings-inference server and Gemini calls the Gemini
// embeddings API. Service wraps a provider with the guarantees callers rely
// on: empty input is rejected, inputs over the character limit are cut at a
// rune boundary and the cut is recorded on the result, and every vector has
// the provider's dimension.
package embeddings
