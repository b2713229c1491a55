// File: internal/replay/jsonl.go
package replay

import (
	"context"
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidctl/api/schemas"
)

// trajectoryLine is one line of a trajectory file.
type trajectoryLine struct {
	Step             int             `json:"step"`
	Action           json.RawMessage `json:"action"`
	Stable           bool            `json:"stable"`
	NumElements      int             `json:"num_elements"`
	InteractionCache string          `json:"interaction_cache,omitempty"`
	StartedAt        string          `json:"started_at"`
	DurationMS       int64           `json:"duration_ms"`
	Error            string          `json:"error,omitempty"`
}

// JSONLRecorder writes one JSON object per step.
type JSONLRecorder struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLRecorder writes to w. The caller owns w.
func NewJSONLRecorder(w io.Writer) *JSONLRecorder {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLRecorder{w: w, enc: enc}
}

// RecordStep appends the step.
func (j *JSONLRecorder) RecordStep(_ context.Context, step Step) error {
	action, err := schemas.Serialize(step.Action)
	if err != nil {
		return err
	}
	line := trajectoryLine{
		Step:             step.Index,
		Action:           json.RawMessage(action),
		Stable:           step.Stable,
		NumElements:      step.NumElements,
		InteractionCache: step.InteractionCache,
		StartedAt:        step.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMS:       step.Duration.Milliseconds(),
	}
	if step.Err != nil {
		line.Error = step.Err.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(line); err != nil {
		return fmt.Errorf("failed to write trajectory line: %w", err)
	}
	return nil
}

// LoadTrajectoryActions reads the actions back out of a trajectory file.
func LoadTrajectoryActions(r io.Reader) ([]schemas.Action, error) {
	dec := json.ConfigCompatibleWithStandardLibrary.NewDecoder(r)
	var actions []schemas.Action
	for dec.More() {
		var line trajectoryLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("failed to read trajectory line %d: %w", len(actions)+1, err)
		}
		a, err := schemas.ParseAction(line.Action)
		if err != nil {
			return nil, fmt.Errorf("trajectory step %d: %w", line.Step, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}
