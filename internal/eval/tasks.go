package eval

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// alpacaPromptNoInput is the instruction-only prompt template used by the
// math tasks. The response trigger at its tail is what ExtractOutput later
// searches for in the decoded generation.
const alpacaPromptNoInput = `Below is an instruction that describes a task. Write a response that appropriately completes the request.

### Instruction:
%s

### Response:
`

// GenerationArgs are the decoding settings passed to the model for one
// evaluation run.
type GenerationArgs struct {
	MaxNewTokens int     `yaml:"max_new_tokens"`
	DoSample     bool    `yaml:"do_sample"`
	Temperature  float32 `yaml:"temperature,omitempty"`
	TopP         float32 `yaml:"top_p,omitempty"`
	TopK         int     `yaml:"top_k,omitempty"`
	NumBeams     int     `yaml:"num_beams,omitempty"`
}

// Task describes one benchmark family: how to build prompts, where the
// answer starts in a generation, which decoding settings to use, and which
// datasets it evaluates on.
type Task struct {
	Name           string         `yaml:"-"`
	TrainDatasets  []string       `yaml:"train_datasets"`
	EvalDatasets   []string       `yaml:"eval_datasets"`
	PromptTemplate string         `yaml:"prompt_template"`
	Trigger        string         `yaml:"trigger"`
	Greedy         GenerationArgs `yaml:"greedy"`
	Sampled        GenerationArgs `yaml:"sampled"`
}

// Args selects the decoding settings for the requested mode.
func (t Task) Args(greedy bool) GenerationArgs {
	if greedy {
		return t.Greedy
	}
	return t.Sampled
}

// taskTable is the static task configuration, initialized at process start
// and read-only thereafter. The trigger strings and decoding settings must
// stay aligned with the published benchmark setups or the scores stop
// being comparable.
var taskTable = map[string]Task{
	"commonsense": {
		Name:           "commonsense",
		TrainDatasets:  []string{"commonsense_170k"},
		EvalDatasets:   []string{"boolq", "piqa", "social_i_qa", "hellaswag", "winogrande", "ARC-Easy", "ARC-Challenge", "openbookqa"},
		PromptTemplate: "%s\n",
		Trigger:        "the correct answer is ",
		Greedy: GenerationArgs{
			MaxNewTokens: 32,
			DoSample:     false,
		},
		Sampled: GenerationArgs{
			MaxNewTokens: 32,
			DoSample:     true,
			Temperature:  0.1,
			TopP:         0.75,
			TopK:         40,
			NumBeams:     4,
		},
	},
	"math": {
		Name:           "math",
		TrainDatasets:  []string{"math_10k"},
		EvalDatasets:   []string{"gsm8k", "SVAMP", "mawps", "AQuA"},
		PromptTemplate: alpacaPromptNoInput,
		Trigger:        "### Response:",
		Greedy: GenerationArgs{
			MaxNewTokens: 512,
			DoSample:     false,
		},
		Sampled: GenerationArgs{
			MaxNewTokens: 512,
			DoSample:     true,
			Temperature:  0.3,
			TopP:         0.75,
			TopK:         40,
			NumBeams:     4,
		},
	},
}

// LookupTask returns the configuration for a task name.
func LookupTask(name string) (Task, error) {
	t, ok := taskTable[name]
	if !ok {
		return Task{}, fmt.Errorf("eval: unknown task %q", name)
	}
	return t, nil
}

// TaskNames lists the configured task names.
func TaskNames() []string {
	names := make([]string, 0, len(taskTable))
	for name := range taskTable {
		names = append(names, name)
	}
	return names
}

// LoadTaskOverrides merges a YAML document of per-task overrides into the
// task table. Intended to run once during process startup, before any
// evaluation begins; zero-valued fields leave the defaults untouched.
func LoadTaskOverrides(r io.Reader) error {
	var overrides map[string]Task
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&overrides); err != nil {
		return fmt.Errorf("eval: parsing task overrides: %w", err)
	}
	for name, o := range overrides {
		base, ok := taskTable[name]
		if !ok {
			return fmt.Errorf("eval: override for unknown task %q", name)
		}
		if o.Trigger != "" {
			base.Trigger = o.Trigger
		}
		if o.PromptTemplate != "" {
			base.PromptTemplate = o.PromptTemplate
		}
		if len(o.TrainDatasets) > 0 {
			base.TrainDatasets = o.TrainDatasets
		}
		if len(o.EvalDatasets) > 0 {
			base.EvalDatasets = o.EvalDatasets
		}
		if o.Greedy.MaxNewTokens > 0 {
			base.Greedy = o.Greedy
		}
		if o.Sampled.MaxNewTokens > 0 {
			base.Sampled = o.Sampled
		}
		taskTable[name] = base
	}
	return nil
}

// LoadTaskOverridesFile is LoadTaskOverrides from a file path.
func LoadTaskOverridesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("eval: opening task overrides: %w", err)
	}
	defer f.Close()
	return LoadTaskOverrides(f)
}
