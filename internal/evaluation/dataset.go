package evaluation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ragagent/internal/validation"
)

// Question is one evaluation item. GroundTruth is a single reference answer.
type Question struct {
	Question    string `yaml:"question" validate:"required"`
	GroundTruth string `yaml:"ground_truth" validate:"required"`
}

type datasetFile struct {
	Questions []Question `yaml:"questions" validate:"required,min=1,dive"`
}

// LoadDataset reads a yaml file of the form:
//
//	questions:
//	  - question: ...
//	    ground_truth: ...
func LoadDataset(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if err := validation.Struct(f); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return f.Questions, nil
}

// DefaultDataset is used when no dataset file is configured.
func DefaultDataset() []Question {
	return []Question{
		{
			Question:    "What is the Model Context Protocol (MCP)?",
			GroundTruth: "MCP is an open protocol that standardizes how applications provide context, tools and data sources to large language models.",
		},
		{
			Question:    "What does the faithfulness metric measure?",
			GroundTruth: "Faithfulness measures how factually consistent the generated answer is with the retrieved context; every claim in the answer should be supported by the context.",
		},
		{
			Question:    "Why should a RAG pipeline be evaluated?",
			GroundTruth: "Evaluation detects hallucinations and poor retrieval, so that changes to chunking, embeddings or prompts can be compared with objective scores.",
		},
	}
}
