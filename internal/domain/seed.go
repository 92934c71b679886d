package domain

// Seed is the raw trip outline a fresh document is built from.
type Seed struct {
	ID    string    `json:"id"`
	Title string    `json:"title" validate:"required"`
	Days  []SeedDay `json:"days" validate:"dive"`
}

type SeedDay struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Items []SeedItem `json:"items" validate:"dive"`
}

type SeedItem struct {
	Category string   `json:"category"`
	Time     string   `json:"time"`
	Tag      Tag      `json:"tag"`
	Note     string   `json:"note"`
	Plan     []string `json:"plan"`
	Images   []string `json:"images"`
}
