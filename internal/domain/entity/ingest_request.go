package entity

// IngestRequest 文本提取完成后交给摄取管线的输入
type IngestRequest struct {
	DocumentID  string      `json:"document_id"`
	OwnerID     string      `json:"owner_id"`
	Text        string      `json:"extracted_text"`
	ContentType ContentType `json:"content_type"`
	Filename    string      `json:"filename,omitempty"`
	TextRef     string      `json:"text_ref,omitempty"`
}
