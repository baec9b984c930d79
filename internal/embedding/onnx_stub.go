//go:build !cgo

package embedding

import "errors"

// ONNXEmbedder stub when built without CGO; see onnx.go for the real
// implementation.
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_ string, _, _, _ int) (*ONNXEmbedder, error) {
	return nil, errors.New("onnx embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
