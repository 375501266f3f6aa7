package models

// Upload is the raw artifact handed to an ingestion. It lives only for the
// duration of one request.
type Upload struct {
	Data        []byte
	ContentType string
	FileName    string
}

// ScanResponse is returned by the scan endpoint.
type ScanResponse struct {
	Message              string      `json:"message"`
	CardID               string      `json:"card_id"`
	ImageURL             string      `json:"image_url"`
	Card                 *Card       `json:"card"`
	MetadataExtracted    bool        `json:"metadata_extracted"`
	ExtractionConfidence *Confidence `json:"extraction_confidence"`
}

type CardListResponse struct {
	Cards      []Card `json:"cards"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"totalPages"`
}
