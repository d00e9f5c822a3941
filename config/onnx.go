//go:build onnx

package config

import (
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/onnx"
)

func init() {
	onnxEmbedder = func(c *Config) (memory.Embedder, func() error, error) {
		e, err := onnx.New(onnx.Config{
			ModelPath:         c.ONNXModelPath,
			TokenizerPath:     c.ONNXTokenizerPath,
			SharedLibraryPath: c.ONNXLibraryPath,
			Dimensions:        c.EmbedDimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	}
}
