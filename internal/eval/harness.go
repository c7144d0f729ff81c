package eval

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/quill-ml/quill/internal/logger"
)

// Model is the generation interface the harness drives. The harness never
// reaches into the model's kernels; it only sees token IDs in and out.
type Model interface {
	Generate(ctx context.Context, batch Batch, args GenerationArgs) ([][]int, error)
}

// Tokenizer encodes prompts into token IDs and decodes generations back.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Example is one benchmark item. ID indexes back into the original example
// list so batched, shuffled pipelines can always recover the ground truth.
type Example struct {
	ID          int    `json:"id"`
	Instruction string `json:"instruction"`
	Answer      string `json:"answer"`
}

// Batch is the collated model input: one row per example, left-padded to
// the longest prompt in the batch.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	IDs           []int
}

// Collator turns prompts into a left-padded batch. Left padding keeps the
// generation continuation adjacent to the prompt for causal models.
type Collator struct {
	Tokenizer Tokenizer
	PadID     int
}

// Collate encodes and pads one batch of prompts. ids carries the example
// identifiers through to the batch unchanged.
func (c *Collator) Collate(prompts []string, ids []int) (Batch, error) {
	encoded := make([][]int, len(prompts))
	longest := 0
	for i, p := range prompts {
		toks, err := c.Tokenizer.Encode(p)
		if err != nil {
			return Batch{}, fmt.Errorf("eval: encoding prompt for example %d: %w", ids[i], err)
		}
		encoded[i] = toks
		if len(toks) > longest {
			longest = len(toks)
		}
	}

	batch := Batch{
		InputIDs:      make([][]int, len(prompts)),
		AttentionMask: make([][]int, len(prompts)),
		IDs:           append([]int(nil), ids...),
	}
	for i, toks := range encoded {
		row := make([]int, longest)
		mask := make([]int, longest)
		pad := longest - len(toks)
		for j := 0; j < pad; j++ {
			row[j] = c.PadID
		}
		copy(row[pad:], toks)
		for j := pad; j < longest; j++ {
			mask[j] = 1
		}
		batch.InputIDs[i] = row
		batch.AttentionMask[i] = mask
	}
	return batch, nil
}

// Record is the per-example evaluation output.
type Record struct {
	Instruction   string `json:"instruction"`
	RawGeneration string `json:"raw_generation"`
	Generation    string `json:"generation"`
	Answer        string `json:"answer"`
	Correct       bool   `json:"correct"`
}

// Report aggregates one evaluation run over a single dataset.
type Report struct {
	RunID   string             `json:"run_id"`
	Task    string             `json:"task"`
	Dataset string             `json:"dataset"`
	Metrics map[string]float64 `json:"metrics"`
	Records []Record           `json:"records"`
}

// WriteJSON serializes the report.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Runner drives batched generation over a dataset and scores the decoded
// outputs with the task's matching rules. Malformed generations degrade
// their own example to incorrect; only model and context failures abort
// the run.
type Runner struct {
	Model     Model
	Tokenizer Tokenizer
	Log       logger.Logger

	BatchSize int  // defaults to 4
	Greedy    bool // greedy decoding instead of the task's sampled settings
	PadID     int
}

// Evaluate runs the named task over examples and returns a report keyed by
// the eval/<dataset> exact-match metric.
func (r *Runner) Evaluate(ctx context.Context, taskName, dataset string, examples []Example) (*Report, error) {
	task, err := LookupTask(taskName)
	if err != nil {
		return nil, err
	}
	log := r.Log
	if log == nil {
		log = logger.Default()
	}
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = 4
	}
	args := task.Args(r.Greedy)
	collator := &Collator{Tokenizer: r.Tokenizer, PadID: r.PadID}

	byID := make(map[int]Example, len(examples))
	for _, ex := range examples {
		byID[ex.ID] = ex
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Task:    taskName,
		Dataset: dataset,
		Metrics: map[string]float64{},
	}
	log.Info("starting evaluation",
		"run_id", report.RunID, "task", taskName, "dataset", dataset,
		"examples", len(examples), "greedy", r.Greedy)

	correct, total := 0, 0
	for start := 0; start < len(examples); start += batchSize {
		// A batch in flight runs to completion; cancellation lands here.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(examples))
		chunk := examples[start:end]

		prompts := make([]string, len(chunk))
		ids := make([]int, len(chunk))
		for i, ex := range chunk {
			prompts[i] = fmt.Sprintf(task.PromptTemplate, ex.Instruction)
			ids[i] = ex.ID
		}
		batch, err := collator.Collate(prompts, ids)
		if err != nil {
			return nil, err
		}

		outputs, err := r.Model.Generate(ctx, batch, args)
		if err != nil {
			return nil, fmt.Errorf("eval: generation failed on batch starting at %d: %w", start, err)
		}
		if len(outputs) != len(chunk) {
			return nil, fmt.Errorf("eval: model returned %d generations for a batch of %d", len(outputs), len(chunk))
		}

		for i, out := range outputs {
			ex := byID[batch.IDs[i]]
			decoded, err := r.Tokenizer.Decode(out)
			if err != nil {
				log.Warn("decoding failed, counting example as incorrect",
					"example", ex.ID, "error", err)
				decoded = ""
			}
			rec := Score(task, ex, decoded)
			if rec.Correct {
				correct++
			}
			total++
			report.Records = append(report.Records, rec)
		}
		log.Debug("batch scored", "done", total, "correct", correct)
	}

	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}
	report.Metrics["eval/"+dataset] = accuracy
	log.Info("evaluation complete",
		"run_id", report.RunID, "dataset", dataset,
		"correct", correct, "total", total, "accuracy", accuracy)
	return report, nil
}

// Score applies the task's matching rules to one decoded generation.
// Commonsense answers match exactly after trimming; math answers match
// numerically within 0.001 when the ground truth parses as a number and
// fall back to multiple-choice letter matching otherwise. Exported so
// pre-decoded generations can be scored offline without a model.
func Score(task Task, ex Example, decoded string) Record {
	raw := ExtractOutput(decoded, task.Trigger)
	rec := Record{
		Instruction:   ex.Instruction,
		RawGeneration: raw,
		Answer:        ex.Answer,
	}
	switch task.Name {
	case "math":
		answer := strings.TrimSpace(ex.Answer)
		if !isFloat(answer) {
			letter := ExtractAnswerLetter(raw)
			rec.Generation = letter
			rec.Correct = letter == answer
			return rec
		}
		gold, _ := strconv.ParseFloat(answer, 64)
		pred := ExtractAnswerNumber(raw)
		rec.Generation = strconv.FormatFloat(pred, 'g', -1, 64)
		rec.Correct = math.Abs(gold-pred) <= 0.001
	default:
		rec.Generation = raw
		rec.Correct = strings.TrimSpace(raw) == strings.TrimSpace(ex.Answer)
	}
	return rec
}
