package extract

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MeKo-Tech/medinvoice/internal/models"
	"github.com/MeKo-Tech/medinvoice/internal/onnx"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	unknownToken       = "[UNK]"
	defaultMaxSequence = 256
)

// ONNXNER runs a word-level token classification model. The vocabulary
// (vocab.txt, one word per line) and BIO label list (labels.txt) live beside
// the model file.
type ONNXNER struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	vocab   map[string]int64
	unk     int64
	labels  []string
	maxSeq  int
}

// NewONNXNER loads the model, vocabulary and labels.
func NewONNXNER(cfg NERConfig) (*ONNXNER, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx NER requires a model path")
	}
	vocab, err := loadLines(models.SidecarPath(cfg.ModelPath, models.NERVocab))
	if err != nil {
		return nil, fmt.Errorf("load NER vocabulary: %w", err)
	}
	labels, err := loadLines(models.SidecarPath(cfg.ModelPath, models.NERLabels))
	if err != nil {
		return nil, fmt.Errorf("load NER labels: %w", err)
	}
	n := &ONNXNER{vocab: make(map[string]int64, len(vocab)), labels: labels, maxSeq: cfg.MaxSequence}
	if n.maxSeq <= 0 {
		n.maxSeq = defaultMaxSequence
	}
	for i, w := range vocab {
		n.vocab[w] = int64(i)
	}
	unk, ok := n.vocab[unknownToken]
	if !ok {
		return nil, fmt.Errorf("NER vocabulary lacks %s", unknownToken)
	}
	n.unk = unk

	session, err := onnx.NewSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask"}, []string{"logits"},
		onnx.SessionConfig{LibraryPath: cfg.LibraryPath, NumThreads: cfg.NumThreads, GPU: onnx.GPUConfig{UseGPU: cfg.UseGPU}})
	if err != nil {
		return nil, err
	}
	n.session = session
	return n, nil
}

func loadLines(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // sidecar of a configured model
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			out = append(out, s)
		}
	}
	return out, sc.Err()
}

// Name implements NER.
func (n *ONNXNER) Name() string { return NERONNX }

// Close releases the session.
func (n *ONNXNER) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil
	}
	err := n.session.Destroy()
	n.session = nil
	return err
}

// Tag implements NER.
func (n *ONNXNER) Tag(text string) ([]Entity, error) {
	words := splitWords(text)
	var out []Entity
	for start := 0; start < len(words); start += n.maxSeq {
		end := min(start+n.maxSeq, len(words))
		probs, err := n.infer(words[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, decodeBIO(text, words[start:end], probs, n.labels)...)
	}
	return out, nil
}

func (n *ONNXNER) ids(words []word) []int64 {
	ids := make([]int64, len(words))
	for i, w := range words {
		id, ok := n.vocab[normWord(w.text)]
		if !ok {
			id = n.unk
		}
		ids[i] = id
	}
	return ids
}

func (n *ONNXNER) infer(words []word) ([][]float64, error) {
	seq, err := onnx.NewSequence(n.ids(words))
	if err != nil {
		return nil, err
	}
	idsT, err := ort.NewTensor(ort.NewShape(seq.Shape...), seq.IDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = idsT.Destroy() }()
	maskT, err := ort.NewTensor(ort.NewShape(seq.Shape...), seq.Mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask tensor: %w", err)
	}
	defer func() { _ = maskT.Destroy() }()

	outputs := []ort.Value{nil}
	n.mu.Lock()
	if n.session == nil {
		n.mu.Unlock()
		return nil, errors.New("NER session closed")
	}
	err = n.session.Run([]ort.Value{idsT, maskT}, outputs)
	n.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("NER inference failed: %w", err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 logits, got %T", outputs[0])
	}
	data := logits.GetData()
	numLabels, err := onnx.ValidateLogits(logits.GetShape(), len(words), len(data))
	if err != nil {
		return nil, err
	}
	if numLabels != len(n.labels) {
		return nil, fmt.Errorf("model emits %d labels, label file has %d", numLabels, len(n.labels))
	}
	probs := make([][]float64, len(words))
	for i := range words {
		probs[i] = onnx.Softmax(data[i*numLabels : (i+1)*numLabels])
	}
	return probs, nil
}

// decodeBIO turns per-word label distributions into entities. An entity's
// score is the mean probability of its words.
func decodeBIO(text string, words []word, probs [][]float64, labels []string) []Entity {
	var out []Entity
	var cur *Entity
	var sum float64
	var count int
	flush := func() {
		if cur != nil {
			cur.Score = clampScore(sum / float64(count))
			cur.Text = runeSlice(text, cur.Start, cur.End)
			out = append(out, *cur)
			cur = nil
		}
	}
	for i, w := range words {
		idx, p := onnx.ArgMax(probs[i])
		if idx < 0 || idx >= len(labels) {
			flush()
			continue
		}
		prefix, label, _ := strings.Cut(labels[idx], "-")
		if label == "" || (label != LabelOrg && label != LabelDate && label != LabelMoney) {
			flush()
			continue
		}
		start, end := trimmedBounds(w)
		if prefix == "I" && cur != nil && cur.Label == label && words[i-1].line == w.line {
			cur.End = end
			sum += p
			count++
			continue
		}
		flush()
		cur = &Entity{Label: label, Start: start, End: end}
		sum, count = p, 1
	}
	flush()
	return out
}
