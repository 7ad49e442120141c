package validation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pixelmuse/backend/internal/models"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestValidateInput(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name    string
		jobType string
		input   string
		wantErr bool
	}{
		{
			name:    "model creation minimal",
			jobType: models.JobTypeModelCreation,
			input:   `{"referenceModelId":1,"name":"portrait","prompt":"a portrait model"}`,
		},
		{
			name:    "model creation missing reference",
			jobType: models.JobTypeModelCreation,
			input:   `{"name":"portrait","prompt":"a portrait model"}`,
			wantErr: true,
		},
		{
			name:    "model creation too many training images",
			jobType: models.JobTypeModelCreation,
			input:   `{"referenceModelId":1,"name":"p","prompt":"p","trainingImages":` + imageList(51) + `}`,
			wantErr: true,
		},
		{
			name:    "refinement minimal",
			jobType: models.JobTypeModelRefinement,
			input:   `{"customModelId":3,"refinementPrompt":"sharper edges"}`,
		},
		{
			name:    "refinement iteration below one",
			jobType: models.JobTypeModelRefinement,
			input:   `{"customModelId":3,"refinementPrompt":"x","refinementIteration":0}`,
			wantErr: true,
		},
		{
			name:    "generation full",
			jobType: models.JobTypeImageGeneration,
			input:   `{"prompt":"a red fox","resolution":"1024x1024","quality":"hd","numImages":2}`,
		},
		{
			name:    "generation bad resolution",
			jobType: models.JobTypeImageGeneration,
			input:   `{"prompt":"a red fox","resolution":"800x600"}`,
			wantErr: true,
		},
		{
			name:    "generation too many images",
			jobType: models.JobTypeImageGeneration,
			input:   `{"prompt":"a red fox","numImages":11}`,
			wantErr: true,
		},
		{
			name:    "generation empty prompt",
			jobType: models.JobTypeImageGeneration,
			input:   `{"prompt":""}`,
			wantErr: true,
		},
		{
			name:    "not json",
			jobType: models.JobTypeImageGeneration,
			input:   `{broken`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateInput(tc.jobType, json.RawMessage(tc.input))
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("got %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateInputUnknownJobType(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateInput("video_generation", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected an error for an unknown job type")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("an unknown job type is a caller bug, not a payload violation")
	}
}

func imageList(n int) string {
	out := `[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += `"https://img.example/` + string(rune('a'+i%26)) + `.png"`
	}
	return out + `]`
}
