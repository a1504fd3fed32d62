package models

// AssetDocument 一次同步中由资产投影出的文本单元，不单独持久化
type AssetDocument struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// PayloadTextKey is the payload field holding the document text.
const PayloadTextKey = "text"

// VectorRecord 向量库中的存储单元，ID 即 upsert 键
type VectorRecord struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Text returns the text payload, or "" when absent.
func (r *VectorRecord) Text() string {
	if r.Payload == nil {
		return ""
	}
	s, _ := r.Payload[PayloadTextKey].(string)
	return s
}

// NewVectorRecord 把文档与向量组合成记录，payload 带上原文与元数据
func NewVectorRecord(doc AssetDocument, vec []float32) VectorRecord {
	payload := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload[PayloadTextKey] = doc.Text
	return VectorRecord{ID: doc.ID, Vector: vec, Payload: payload}
}

type ChatbotRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

type ChatbotResponse struct {
	Response     string `json:"response"`
	SessionID    string `json:"sessionId"`
	IsSuccessful bool   `json:"isSuccessful"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
