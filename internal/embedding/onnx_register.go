//go:build onnx

package embedding

func init() {
	onnxFactory = func(cfg ONNXConfig) (Embedder, error) {
		return NewONNX(cfg)
	}
}
