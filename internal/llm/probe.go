package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

type ProbeResult struct {
	Models   []string
	HasModel bool
}

// Probe lists the models installed on an Ollama server and reports whether
// model is among them. An error means the server could not be reached.
func Probe(ctx context.Context, rawURL, model string) (*ProbeResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}

	client := api.NewClient(u, &http.Client{Timeout: 10 * time.Second})
	resp, err := client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}

	res := &ProbeResult{Models: make([]string, 0, len(resp.Models))}
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		res.Models = append(res.Models, name)
		if name == model || m.Model == model {
			res.HasModel = true
		}
	}
	return res, nil
}
