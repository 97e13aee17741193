package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"matchmaking-system/services"
)

// RoomClient provisions third-party game rooms. Allocation may fail
// transiently; retry policy lives with the caller (lifecycle service).
type RoomClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewRoomClient() *RoomClient {
	baseURL := os.Getenv("ROOM_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("ROOM_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("ROOM_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("ROOM_SERVICE_TOKEN environment variable is required")
	}

	return &RoomClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// AllocateRoom requests a room + password for a match.
func (c *RoomClient) AllocateRoom(ctx context.Context, matchID, format string) (services.RoomCredentials, error) {
	var creds services.RoomCredentials

	payload, _ := json.Marshal(map[string]string{
		"match_id": matchID,
		"format":   format,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/v1/rooms", c.BaseURL), bytes.NewBuffer(payload))
	if err != nil {
		return creds, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return creds, fmt.Errorf("failed to call room service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return creds, fmt.Errorf("room service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return creds, fmt.Errorf("failed to decode room service response: %w", err)
	}
	if creds.RoomID == "" || creds.RoomPassword == "" {
		return creds, fmt.Errorf("room service returned incomplete credentials")
	}
	return creds, nil
}
