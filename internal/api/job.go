package api

import (
	"encoding/json"
	"time"
)

// JobType classifies a print job.
type JobType string

const (
	JobTypeReceipt      JobType = "receipt"
	JobTypeLabel        JobType = "label"
	JobTypeStickerImage JobType = "sticker_image"
	JobTypeOpenDrawer   JobType = "open_drawer"
)

// JobPrinter is the printer the server assigned to a job.
type JobPrinter struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Job is a leased print job. The lease must be acked (success or failure)
// before LeaseUntil or the server hands the job to another agent.
type Job struct {
	ID         string          `json:"job_id"`
	LeaseID    string          `json:"lease_id"`
	LeaseUntil string          `json:"lease_until"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	Printer    JobPrinter      `json:"printer"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

func (j *Job) PrinterCode() string {
	return j.Printer.Code
}

// NextJobResponse wraps GET /jobs/next. Data is nil when the queue is empty.
type NextJobResponse struct {
	Success bool `json:"success"`
	Data    *Job `json:"data"`
}

// FetchNextJobParams filter the next-job poll.
type FetchNextJobParams struct {
	Type        string
	PrinterCode string
	// LeaseDuration in seconds; the server clamps it to [10, 300].
	LeaseDuration int
}

// ReceiptPayload is the payload of a receipt job. Type is "put_aside" for
// reservation tickets, which use PutAsidePayload instead.
type ReceiptPayload struct {
	Type          string        `json:"type,omitempty"`
	StoreAddress1 string        `json:"store_address_1,omitempty"`
	StoreAddress2 string        `json:"store_address_2,omitempty"`
	StorePhone    string        `json:"store_phone,omitempty"`
	StoreVAT      string        `json:"store_vat,omitempty"`
	StoreSocial   string        `json:"store_social,omitempty"`
	StoreWebsite  string        `json:"store_website,omitempty"`
	Barcode       string        `json:"barcode,omitempty"`
	Items         []ReceiptItem `json:"items"`
	Payments      []string      `json:"payments,omitempty"`
}

// ReceiptItem is one line on a receipt.
type ReceiptItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// PutAsidePayload is the payload of a put-aside ticket job.
type PutAsidePayload struct {
	Type           string `json:"type"`
	CustomerName   string `json:"customer_name"`
	CustomerPhone  string `json:"customer_phone,omitempty"`
	ProductName    string `json:"product_name"`
	ProductBarcode string `json:"product_barcode,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	OrderBarcode   string `json:"order_barcode"`
	OrderDate      string `json:"order_date"`
}

// LabelPayload is the payload of a price label job.
type LabelPayload struct {
	Name      string `json:"name"`
	PriceText string `json:"price_text"`
	Barcode   string `json:"barcode"`
	Footer    string `json:"footer,omitempty"`
}

// StickerImagePayload carries the sticker artwork, either inline as
// base64 or as a URL to download. Inline data wins when both are set.
type StickerImagePayload struct {
	ImageURL  string `json:"image_url,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

func (j *Job) ParseReceiptPayload() (*ReceiptPayload, error) {
	var p ReceiptPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (j *Job) ParseLabelPayload() (*LabelPayload, error) {
	var p LabelPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (j *Job) ParseStickerImagePayload() (*StickerImagePayload, error) {
	var p StickerImagePayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (j *Job) ParsePutAsidePayload() (*PutAsidePayload, error) {
	var p PutAsidePayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, err
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	return &p, nil
}
