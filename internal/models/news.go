package models

import "time"

// NewsDocument is one accepted issuer announcement.
type NewsDocument struct {
	DocumentID      string    `json:"documentId"`
	PublicationDate string    `json:"publicationDate"` // YYYY-MM-DD
	Title           string    `json:"title"`
	TextContent     string    `json:"textContent"`
	CompanyName     string    `json:"companyName"`
	CompanyCode     string    `json:"companyCode"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// CSVRow returns the document in the column order of the news CSV file.
func (d *NewsDocument) CSVRow() []string {
	return []string{d.DocumentID, d.PublicationDate, d.Title, d.TextContent, d.CompanyName, d.CompanyCode}
}
