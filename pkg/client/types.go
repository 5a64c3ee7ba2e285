package client

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one catalog item as served by the API.
type Product struct {
	Reference       string              `json:"reference"`
	Name            string              `json:"name"`
	Brand           string              `json:"brand"`
	Category        string              `json:"category"`
	Description     string              `json:"description,omitempty"`
	Price           decimal.Decimal     `json:"price"`
	OriginalPrice   decimal.NullDecimal `json:"originalPrice"`
	DiscountPercent int                 `json:"discountPercent"`
	InStock         bool                `json:"inStock"`
	Sizes           []string            `json:"sizes"`
	Colors          []string            `json:"colors"`
	Images          []string            `json:"images"`
	SourceURL       string              `json:"sourceUrl"`
	ExtractedAt     time.Time           `json:"extractedAt"`
	RunID           string              `json:"runId"`
}

// ProductQuery selects a page of products.
type ProductQuery struct {
	Page     int
	Limit    int
	Search   string
	Category string
	Brand    string
}

// ProductsResponse is the /products envelope.
type ProductsResponse struct {
	Success        bool       `json:"success"`
	Count          int        `json:"count"`
	Total          int        `json:"total"`
	Page           int        `json:"page"`
	Limit          int        `json:"limit"`
	TotalPages     int        `json:"totalPages"`
	LastExtraction *time.Time `json:"lastExtraction"`
	Data           []Product  `json:"data"`
}

// SearchQuery is an unpaginated, optionally sorted search.
type SearchQuery struct {
	Q        string
	Category string
	Brand    string
	Sort     string
	Desc     bool
}

type SearchResponse struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Query   string    `json:"query"`
	Sort    string    `json:"sort,omitempty"`
	Order   string    `json:"order"`
	Data    []Product `json:"data"`
}

// ExtractResponse answers a run request. Success is false when a run is
// already in flight.
type ExtractResponse struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	RunID             string    `json:"runId,omitempty"`
	ActiveExtractions int       `json:"activeExtractions,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// StepResult is one step of a connectivity check.
type StepResult struct {
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TestResponse reports a connectivity check. Tests is nil when the check
// was refused before it started.
type TestResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tests     *struct {
		Connection StepResult `json:"connection"`
		Login      StepResult `json:"login"`
	} `json:"tests,omitempty"`
}

// RunCounters are the run totals since the daemon started.
type RunCounters struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

type Memory struct {
	HeapAlloc  uint64  `json:"heapAlloc"`
	HeapSys    uint64  `json:"heapSys"`
	Sys        uint64  `json:"sys"`
	RSS        uint64  `json:"rss"`
	CPUPercent float64 `json:"cpuPercent"`
}

// StatusResponse is the /status envelope.
type StatusResponse struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	Application struct {
		Name      string    `json:"name"`
		Version   string    `json:"version"`
		StartTime time.Time `json:"startTime"`
		Uptime    string    `json:"uptime"`
	} `json:"application"`
	Data struct {
		Products        int         `json:"products"`
		IsRunning       bool        `json:"isRunning"`
		LastExtraction  *time.Time  `json:"lastExtraction"`
		LastError       string      `json:"lastError,omitempty"`
		NextRun         *time.Time  `json:"nextRun,omitempty"`
		ExtractionStats RunCounters `json:"extractionStats"`
	} `json:"data"`
	Resources struct {
		ActiveSessions    int    `json:"activeSessions"`
		ActiveExtractions int    `json:"activeExtractions"`
		Goroutines        int    `json:"goroutines"`
		Memory            Memory `json:"memory"`
	} `json:"resources"`
	Configuration struct {
		HasCredentials bool   `json:"hasCredentials"`
		TargetSite     string `json:"targetSite"`
		HeadlessMode   bool   `json:"headlessMode"`
		MergePolicy    string `json:"mergePolicy,omitempty"`
	} `json:"configuration"`
}

// Stats are the catalog aggregates from /stats.
type Stats struct {
	TotalProducts  int             `json:"totalProducts"`
	InStock        int             `json:"inStock"`
	Discounted     int             `json:"discounted"`
	ByBrand        map[string]int  `json:"byBrand"`
	ByCategory     map[string]int  `json:"byCategory"`
	Unpriced       int             `json:"unpriced"`
	AveragePrice   decimal.Decimal `json:"averagePrice"`
	LastMerge      *time.Time      `json:"lastMerge,omitempty"`
	LastExtraction *time.Time      `json:"lastExtraction"`
	Extractions    RunCounters     `json:"extractions"`
}

type StatsResponse struct {
	Success bool  `json:"success"`
	Data    Stats `json:"data"`
}

// Run is the summary of one extraction run.
type Run struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	State      string     `json:"state"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMS int64      `json:"durationMs"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	SessionID  string     `json:"sessionId,omitempty"`
	Records    int        `json:"records"`
	Inserted   int        `json:"inserted"`
	Skipped    int        `json:"skipped"`
}

// TokenResponse is an issued bearer token.
type TokenResponse struct {
	Success   bool      `json:"success"`
	TokenType string    `json:"tokenType"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
