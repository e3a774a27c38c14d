package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	apiHealthTimeout   = 5 * time.Second
	congestedThreshold = 1500 * time.Millisecond
)

type endpointHealth struct {
	Status   string
	Latency  time.Duration
	Detail   string
	Services map[string]string
}

var checkAPIHealthFunc = checkAPIHealth

func checkAPIHealth(baseURL string) endpointHealth {
	healthURL := strings.TrimRight(baseURL, "/") + "/health"
	client := &http.Client{Timeout: apiHealthTimeout}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, healthURL, nil)
	if err != nil {
		return endpointHealth{Status: "down", Detail: err.Error()}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return endpointHealth{Status: "down", Latency: latency, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return endpointHealth{
			Status:  "down",
			Latency: latency,
			Detail:  fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return endpointHealth{Status: "down", Latency: latency, Detail: "invalid health response"}
	}

	status := "up"
	switch {
	case body.Status != "healthy":
		status = body.Status
	case latency > congestedThreshold:
		status = "congested"
	}

	return endpointHealth{
		Status:   status,
		Latency:  latency,
		Detail:   "version " + body.Version,
		Services: body.Services,
	}
}

func renderStatus(status string) string {
	switch status {
	case "up":
		return SuccessStyle.Render(status)
	case "down":
		return ErrorStyle.Render(status)
	default:
		return WarningStyle.Render(status)
	}
}
