package summary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Summary is the read-only document summary a chat session is scoped to.
type Summary struct {
	ID         string   `json:"id" yaml:"id"`
	DocumentID string   `json:"documentId,omitempty" yaml:"documentId,omitempty"`
	Title      string   `json:"title" yaml:"title"`
	Content    string   `json:"content" yaml:"content"`
	KeyPoints  []string `json:"keyPoints,omitempty" yaml:"keyPoints,omitempty"`
}

// Seed provides a small default set used when no seed file is configured.
func Seed() []Summary {
	return []Summary{
		{
			ID:         "6c6685b8-4cfa-4e77-9f4f-43a7aa6fdc04",
			DocumentID: "resume-001",
			Title:      "Backend Engineer Resume",
			Content: "Backend engineer with seven years of experience building distributed services in Go and Java. " +
				"Led the migration of a monolith to event-driven microservices and owns the on-call tooling.",
			KeyPoints: []string{
				"Seven years of backend experience",
				"Go, Java, Kafka, PostgreSQL",
				"Led a monolith-to-microservices migration",
			},
		},
		{
			ID:         "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
			DocumentID: "paper-042",
			Title:      "Consensus Protocols Survey",
			Content: "Survey of crash-fault and Byzantine-fault tolerant consensus protocols, comparing Paxos, Raft and PBFT " +
				"by message complexity, leader election and recovery behaviour.",
			KeyPoints: []string{
				"Raft trades generality for understandability",
				"PBFT tolerates f faulty replicas out of 3f+1",
			},
		},
	}
}

type seedFile struct {
	Summaries []Summary `yaml:"summaries"`
}

// LoadFile reads summaries from a YAML document of the form `summaries: [...]`.
func LoadFile(path string) ([]Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summaries file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse summaries file: %w", err)
	}

	for i, item := range file.Summaries {
		if item.ID == "" {
			return nil, fmt.Errorf("summary #%d is missing an id", i)
		}
	}
	return file.Summaries, nil
}
