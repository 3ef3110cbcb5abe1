package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

var (
	baseURL = env("BASE_URL", defaultBaseURL)
	apiKey  = env("API_KEY", "")
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type node struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	suffix := fmt.Sprintf("%d", time.Now().Unix())

	// 1. Construct
	fmt.Println("1. Constructing entity network...")
	payload := map[string]any{
		"entities": [][]any{
			{"Alice " + suffix, "PERSON", map[string]any{"entityType": []string{"Person"}}},
			{"Acme " + suffix, "ORG"},
			{"San Francisco " + suffix, "GPE"},
		},
	}
	var constructed struct {
		Result struct {
			Created       []node `json:"created"`
			Relationships []any  `json:"relationships"`
		} `json:"result"`
	}
	if !sendRequest("POST", "/nodes/", payload, http.StatusOK, &constructed) {
		fail("Construct")
	}
	if len(constructed.Result.Created) != 3 || len(constructed.Result.Relationships) != 3 {
		fmt.Printf("expected 3 nodes and 3 relationships, got %d and %d\n",
			len(constructed.Result.Created), len(constructed.Result.Relationships))
		fail("Construct")
	}
	fmt.Println("PASSED: Construct")

	// 2. Re-send; every entity must merge
	fmt.Println("2. Re-sending the same batch...")
	var merged struct {
		Result struct {
			Created []node `json:"created"`
			Merged  []node `json:"merged"`
		} `json:"result"`
	}
	if !sendRequest("POST", "/nodes/", payload, http.StatusOK, &merged) || len(merged.Result.Created) != 0 {
		fail("Idempotent construct")
	}
	fmt.Println("PASSED: Idempotent construct")

	alice := constructed.Result.Created[0].UID

	// 3. Update
	fmt.Println("3. Updating node...")
	update := map[string]any{"url": "https://en.wikipedia.org/wiki/Alice"}
	if !sendRequest("PUT", "/nodes/?uid="+alice, update, http.StatusOK, nil) {
		fail("Update")
	}
	fmt.Println("PASSED: Update")

	// 4. Relationships
	fmt.Println("4. Listing relationships...")
	var rels struct {
		Relationships []any `json:"relationships"`
	}
	if !sendRequest("GET", "/relationships/?uid="+alice, nil, http.StatusOK, &rels) || len(rels.Relationships) != 2 {
		fail("Relationships")
	}
	fmt.Println("PASSED: Relationships")

	// 5. Delete, twice
	fmt.Println("5. Deleting node...")
	if !sendRequest("DELETE", "/nodes/?uid="+alice, nil, http.StatusOK, nil) {
		fail("Delete")
	}
	if !sendRequest("DELETE", "/nodes/?uid="+alice, nil, http.StatusNotFound, nil) {
		fail("Delete missing")
	}
	fmt.Println("PASSED: Delete")
}

func fail(step string) {
	fmt.Printf("FAILED: %s\n", step)
	os.Exit(1)
}

func sendRequest(method, endpoint string, payload any, want int, out any) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return false
	}
	fmt.Printf("Response: %s\n", string(respBody))

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			fmt.Printf("Error decoding response: %v\n", err)
			return false
		}
	}
	return true
}
