package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"challenge-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BusinessSyncClient polls the business directory service and mirrors
// profile data (level, streak) into business_mirror. The engine never
// derives levels itself — the directory is authoritative.
type BusinessSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewBusinessSyncClient(db *gorm.DB, baseURL, token string) *BusinessSyncClient {
	return &BusinessSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *BusinessSyncClient) GetChangedBusinesses(ctx context.Context, since time.Time) ([]models.BusinessMirror, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/businesses", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call directory service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("directory service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Businesses []models.BusinessMirror `json:"businesses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}

	return response.Businesses, nil
}

// PollBusinesses keeps business_mirror fresh. On upsert failure the sync
// window is not advanced, so the same batch is retried next tick.
func PollBusinesses(ctx context.Context, client *BusinessSyncClient, pollInterval time.Duration) {
	log.Println("Starting business directory polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Business directory polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			businesses, err := client.GetChangedBusinesses(ctx, lastSyncTime)
			if err != nil {
				log.Printf("[DirectorySync] poll failed: %v", err)
				continue
			}
			if len(businesses) == 0 {
				continue
			}

			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "business_id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"name",
						"level",
						"current_streak",
						"is_active",
						"updated_at",
					}),
				},
			).Create(&businesses).Error; err != nil {
				log.Printf("[DirectorySync] failed to upsert %d business(es): %v", len(businesses), err)
				continue
			}

			lastSyncTime = logTime
			log.Printf("[DirectorySync] upserted %d business(es) into business_mirror", len(businesses))
		}
	}
}
