//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kioku/internal/vector"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It requires CGO
// and the onnxruntime shared library. Inference is serialized over pre-allocated tensors.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath. The model must take input_ids,
// attention_mask and token_type_ids of shape [1, maxTokens] and emit a pooled
// "output" of shape [1, dimensions].
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	ortOnce.Do(func() { ortErr = ort.InitializeEnvironment() })
	if ortErr != nil {
		return nil, unavailable("initialize onnx runtime", ortErr)
	}

	e := &ONNXEmbedder{dimensions: dimensions, maxTokens: maxTokens, tokenizer: &SimpleTokenizer{}}
	ids, mask, types := e.tokenizer.Tokenize("", maxTokens)
	shape := ort.NewShape(1, int64(maxTokens))

	var err error
	if e.inputIDs, err = ort.NewTensor(shape, ids); err != nil {
		return nil, unavailable("create input_ids tensor", err)
	}
	if e.attentionMask, err = ort.NewTensor(shape, mask); err != nil {
		_ = e.Close()
		return nil, unavailable("create attention_mask tensor", err)
	}
	if e.tokenTypeIDs, err = ort.NewTensor(shape, types); err != nil {
		_ = e.Close()
		return nil, unavailable("create token_type_ids tensor", err)
	}
	if e.output, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		_ = e.Close()
		return nil, unavailable("create output tensor", err)
	}

	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, unavailable(fmt.Sprintf("load model %s", modelPath), err)
	}
	return e, nil
}

// Embed runs the model on text and returns a unit-length embedding.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, unavailable("embed", fmt.Errorf("embedder closed"))
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, unavailable("inference", err)
	}

	emb := make(vector.Vector, e.dimensions)
	copy(emb, e.output.GetData())
	vector.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.output != nil {
		_ = e.output.Destroy()
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs, e.output = nil, nil, nil, nil
	return err
}
