//go:build onnx

package embedding

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/haloview/tvbrain/internal/vector"
)

// Compile-time interface check
var _ Embedder = (*ONNX)(nil)

// maxSeqLen is the standard sequence length for MiniLM models.
const maxSeqLen = 128

// ONNX generates embeddings with a local MiniLM model through ONNX Runtime.
// The session is not safe for concurrent Run calls, so Embed serializes them.
type ONNX struct {
	session   *ort.DynamicAdvancedSession
	vocab     map[string]int64
	clsToken  int64
	sepToken  int64
	unkToken  int64
	dimension int
	mu        sync.Mutex
}

// NewONNX creates the on-device embedder from a model and vocab file.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 384
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	e := &ONNX{
		session:   session,
		vocab:     vocab,
		dimension: cfg.Dimension,
	}
	e.clsToken = e.tokenID("[CLS]")
	e.sepToken = e.tokenID("[SEP]")
	e.unkToken = e.tokenID("[UNK]")

	return e, nil
}

// Embed converts text to an L2-normalized embedding vector.
func (e *ONNX) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask := e.encode(text)
	tokenTypeIDs := make([]int64, maxSeqLen)

	shape := ort.NewShape(1, int64(maxSeqLen))
	inputTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	// Output is auto-allocated by Run
	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	return e.meanPool(tensor, attentionMask)
}

// EmbedBatch embeds texts sequentially; MiniLM inference on device hardware
// gains nothing from batching through this session.
func (e *ONNX) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelName returns the embedder identifier.
func (e *ONNX) ModelName() string {
	return "onnx-minilm"
}

// Close releases the ONNX session.
func (e *ONNX) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}

// encode performs lowercased whole-word vocab lookup with [CLS]/[SEP]
// framing, truncated to maxSeqLen.
func (e *ONNX) encode(text string) (inputIDs, attentionMask []int64) {
	inputIDs = make([]int64, maxSeqLen)
	attentionMask = make([]int64, maxSeqLen)

	inputIDs[0] = e.clsToken
	attentionMask[0] = 1

	words := strings.Fields(strings.ToLower(text))
	if len(words) > maxSeqLen-2 {
		words = words[:maxSeqLen-2]
	}

	pos := 1
	for _, w := range words {
		id, ok := e.vocab[w]
		if !ok {
			id = e.unkToken
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}

	inputIDs[pos] = e.sepToken
	attentionMask[pos] = 1

	return inputIDs, attentionMask
}

// meanPool averages last_hidden_state over attended positions.
func (e *ONNX) meanPool(tensor *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
	seqLen, hidden := int(shape[1]), int(shape[2])
	if hidden != e.dimension {
		return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", hidden, e.dimension)
	}

	embedding := make([]float32, hidden)
	var attended float32
	for i := 0; i < seqLen && i < len(attentionMask); i++ {
		if attentionMask[i] == 0 {
			continue
		}
		attended++
		offset := i * hidden
		for j := 0; j < hidden; j++ {
			embedding[j] += data[offset+j]
		}
	}
	if attended == 0 {
		return nil, fmt.Errorf("no attended tokens")
	}
	for j := range embedding {
		embedding[j] /= attended
	}

	return vector.Normalize(embedding), nil
}

func (e *ONNX) tokenID(token string) int64 {
	if id, ok := e.vocab[token]; ok {
		return id
	}
	return 0
}

// loadVocab reads a WordPiece vocab.txt (one token per line, id = line number).
func loadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		vocab[scanner.Text()] = id
		id++
	}
	return vocab, scanner.Err()
}
